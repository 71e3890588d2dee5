/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/events"
	"github.com/loqalabs/loqa-tts/internal/logging"
	"github.com/loqalabs/loqa-tts/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// EventStore is the read side of the synthesis audit log
type EventStore interface {
	List(ctx context.Context, options storage.ListOptions) ([]*events.SynthesisEvent, error)
	Count(ctx context.Context, options storage.ListOptions) (int64, error)
	GetByUUID(ctx context.Context, uuid string) (*events.SynthesisEvent, error)
}

// SynthesisEventsHandler serves the synthesis audit log
type SynthesisEventsHandler struct {
	store EventStore
}

// NewSynthesisEventsHandler creates a new synthesis events handler
func NewSynthesisEventsHandler(store EventStore) *SynthesisEventsHandler {
	return &SynthesisEventsHandler{store: store}
}

// ListSynthesisEventsResponse is one page of events
type ListSynthesisEventsResponse struct {
	Events     []*events.SynthesisEvent `json:"events"`
	Total      int64                    `json:"total"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
	TotalPages int                      `json:"total_pages"`
}

// Routes mounts the handlers on a chi router
func (h *SynthesisEventsHandler) Routes(r chi.Router) {
	r.Get("/", h.ListSynthesisEvents)
	r.Get("/{id}", h.GetSynthesisEvent)
}

// ListSynthesisEvents handles GET /api/synthesis-events
func (h *SynthesisEventsHandler) ListSynthesisEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := max(parseIntParam(query.Get("page"), 1), 1)
	pageSize := min(max(parseIntParam(query.Get("page_size"), defaultPageSize), 1), maxPageSize)

	options := storage.ListOptions{
		RequestID: query.Get("request_id"),
		ErrorKind: query.Get("error_kind"),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
		SortBy:    query.Get("sort_by"),
		SortOrder: strings.ToUpper(query.Get("sort_order")),
	}

	if successStr := query.Get("success"); successStr != "" {
		success, err := strconv.ParseBool(successStr)
		if err != nil {
			http.Error(w, "success must be a boolean", http.StatusBadRequest)
			return
		}
		options.Success = &success
	}

	var ok bool
	if options.StartTime, ok = parseTimeParam(w, query.Get("start_time"), "start_time"); !ok {
		return
	}
	if options.EndTime, ok = parseTimeParam(w, query.Get("end_time"), "end_time"); !ok {
		return
	}

	total, err := h.store.Count(r.Context(), options)
	if err != nil {
		logging.LogError(err, "Failed to count synthesis events")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	list, err := h.store.List(r.Context(), options)
	if err != nil {
		logging.LogError(err, "Failed to list synthesis events")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := ListSynthesisEventsResponse{
		Events:     list,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}

	logging.LogDebug("Synthesis events API request",
		zap.String("endpoint", "list"),
		zap.Int("page", page),
		zap.Int("page_size", pageSize),
		zap.Int64("total_results", total),
		zap.String("error_kind", options.ErrorKind),
	)

	writeJSON(w, http.StatusOK, response)
}

// GetSynthesisEvent handles GET /api/synthesis-events/{id}
func (h *SynthesisEventsHandler) GetSynthesisEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}

	event, err := h.store.GetByUUID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			http.Error(w, "Synthesis event not found", http.StatusNotFound)
			return
		}
		logging.LogError(err, "Failed to get synthesis event", zap.String("uuid", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func parseTimeParam(w http.ResponseWriter, value, name string) (*time.Time, bool) {
	if value == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		http.Error(w, name+" must be an RFC 3339 timestamp", http.StatusBadRequest)
		return nil, false
	}
	return &parsed, true
}

// parseIntParam parses integer parameter with default value
func parseIntParam(param string, defaultValue int) int {
	if param == "" {
		return defaultValue
	}

	if value, err := strconv.Atoi(param); err == nil {
		return value
	}

	return defaultValue
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.LogError(err, "Failed to encode JSON response")
	}
}
