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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/logging"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/loqalabs/loqa-tts/internal/synthesis"
)

// Response headers describing how a payload was produced
const (
	HeaderVoice    = "X-TTS-Voice"
	HeaderFallback = "X-TTS-Fallback"
)

// TTSRequest is the body of POST /tts. Speaker is accepted as an alias of Voice.
type TTSRequest struct {
	Text    string `json:"text"`
	Voice   string `json:"voice,omitempty"`
	Speaker string `json:"speaker,omitempty"`
}

// RequestedVoice returns voice, or speaker when voice is empty
func (r TTSRequest) RequestedVoice() string {
	if r.Voice != "" {
		return r.Voice
	}
	return r.Speaker
}

// ErrorResponse is the body of every failed synthesis request
type ErrorResponse struct {
	Kind   synthesis.Kind `json:"kind"`
	Detail string         `json:"detail"`
}

// VoicesResponse is the body of GET /voices
type VoicesResponse struct {
	Voices     []string `json:"voices"`
	MultiVoice bool     `json:"multi_voice"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Ready     bool      `json:"ready"`
	Model     string    `json:"model"`
	Backend   string    `json:"backend"`
	Device    string    `json:"device"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TTSHandler serves synthesis and model introspection
type TTSHandler struct {
	orchestrator *synthesis.Orchestrator
}

// NewTTSHandler creates a handler over a configured orchestrator
func NewTTSHandler(orchestrator *synthesis.Orchestrator) *TTSHandler {
	return &TTSHandler{orchestrator: orchestrator}
}

// Synthesize handles POST /tts
func (h *TTSHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &synthesis.Error{Kind: synthesis.KindInvalidInput, Detail: "request body must be a JSON object", Err: err})
		return
	}

	outcome, err := h.orchestrator.Handle(r.Context(), synthesis.Request{
		RequestID: middleware.GetReqID(r.Context()),
		Text:      req.Text,
		Voice:     req.RequestedVoice(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", outcome.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(outcome.Audio)))
	if id, ok := outcome.Voice.Get(); ok {
		w.Header().Set(HeaderVoice, id)
	}
	w.Header().Set(HeaderFallback, strconv.FormatBool(outcome.UsedFallback))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(outcome.Audio); err != nil {
		logging.LogWarn("Failed to write audio response",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
}

// Voices handles GET /voices
func (h *TTSHandler) Voices(w http.ResponseWriter, r *http.Request) {
	catalog := h.orchestrator.Catalog(r.Context())
	writeJSON(w, http.StatusOK, VoicesResponse{
		Voices:     catalog.Voices(),
		MultiVoice: catalog.MultiVoice(),
	})
}

// Health handles GET /health
func (h *TTSHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthOf(h.orchestrator.Runtime()))
}

func healthOf(runtime *model.Runtime) HealthResponse {
	info := runtime.Info()
	resp := HealthResponse{
		Status:    "ok",
		Ready:     runtime.Ready(),
		Model:     info.ID,
		Backend:   info.Backend,
		Device:    info.Device,
		Timestamp: time.Now(),
	}
	if !resp.Ready {
		resp.Status = "degraded"
		if err := runtime.InitError(); err != nil {
			resp.Error = err.Error()
		}
	}
	return resp
}

// statusFor maps a synthesis error kind onto an HTTP status
func statusFor(kind synthesis.Kind) int {
	if kind == synthesis.KindInvalidInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	var synthErr *synthesis.Error
	if !errors.As(err, &synthErr) {
		synthErr = &synthesis.Error{Kind: synthesis.KindSynthesisFailed, Detail: err.Error()}
	}

	detail := synthErr.Detail
	if detail == "" {
		detail = synthErr.Error()
	}
	writeJSON(w, statusFor(synthErr.Kind), ErrorResponse{Kind: synthErr.Kind, Detail: detail})
}
