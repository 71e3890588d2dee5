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

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/events"
	"github.com/loqalabs/loqa-tts/internal/logging"
)

// ErrEventNotFound is returned when no event matches a UUID
var ErrEventNotFound = errors.New("synthesis event not found")

const eventColumns = `uuid, request_id, timestamp,
	text_length, requested_voice,
	resolved_voice, used_fallback, audio_bytes, content_type,
	processing_time_ms, success, error_kind, error_message`

// Sortable columns; anything else falls back to timestamp
var sortColumns = map[string]string{
	"timestamp":       "timestamp",
	"processing_time": "processing_time_ms",
	"audio_bytes":     "audio_bytes",
	"text_length":     "text_length",
}

// SynthesisEventsStore handles database operations for synthesis events
type SynthesisEventsStore struct {
	db *Database
}

// NewSynthesisEventsStore creates a new synthesis events store
func NewSynthesisEventsStore(db *Database) *SynthesisEventsStore {
	return &SynthesisEventsStore{db: db}
}

// Insert stores a new synthesis event
func (s *SynthesisEventsStore) Insert(ctx context.Context, event *events.SynthesisEvent) error {
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid synthesis event: %w", err)
	}

	query := `INSERT INTO synthesis_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB().ExecContext(ctx, query,
		event.UUID, event.RequestID, event.Timestamp.UTC(),
		event.TextLength, event.RequestedVoice,
		event.ResolvedVoice, event.UsedFallback, event.AudioBytes, event.ContentType,
		event.ProcessingTime, event.Success, event.ErrorKind, event.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert synthesis event: %w", err)
	}

	logging.LogDatabaseOperation("insert", "synthesis_events",
		zap.String("uuid", event.UUID),
		zap.String("request_id", event.RequestID),
		zap.Bool("success", event.Success),
	)
	return nil
}

// GetByUUID retrieves a synthesis event by its UUID
func (s *SynthesisEventsStore) GetByUUID(ctx context.Context, uuid string) (*events.SynthesisEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM synthesis_events WHERE uuid = ?`

	event, err := scanSynthesisEvent(s.db.DB().QueryRowContext(ctx, query, uuid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get synthesis event: %w", err)
	}
	return event, nil
}

// List retrieves synthesis events with pagination and filtering
func (s *SynthesisEventsStore) List(ctx context.Context, options ListOptions) ([]*events.SynthesisEvent, error) {
	where, args := options.where()
	query := `SELECT ` + eventColumns + ` FROM synthesis_events` + where + options.orderBy()

	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)

		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query synthesis events: %w", err)
	}
	defer rows.Close()

	eventsList := make([]*events.SynthesisEvent, 0)
	for rows.Next() {
		event, err := scanSynthesisEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan synthesis event: %w", err)
		}
		eventsList = append(eventsList, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating synthesis events: %w", err)
	}

	return eventsList, nil
}

// Count returns the number of events matching the filters, ignoring pagination
func (s *SynthesisEventsStore) Count(ctx context.Context, options ListOptions) (int64, error) {
	where, args := options.where()

	var count int64
	err := s.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM synthesis_events`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count synthesis events: %w", err)
	}

	return count, nil
}

// DeleteBefore prunes events older than cutoff and reports how many went
func (s *SynthesisEventsStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.DB().ExecContext(ctx, "DELETE FROM synthesis_events WHERE timestamp < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune synthesis events: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	logging.LogDatabaseOperation("prune", "synthesis_events", zap.Int64("removed", removed))
	return removed, nil
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	// Filtering
	RequestID string
	ErrorKind string
	Success   *bool // nil = all, true = success only, false = errors only
	StartTime *time.Time
	EndTime   *time.Time

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // "timestamp", "processing_time", "audio_bytes", "text_length"
	SortOrder string // "ASC", "DESC"
}

func (o ListOptions) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if o.RequestID != "" {
		clauses = append(clauses, "request_id = ?")
		args = append(args, o.RequestID)
	}

	if o.ErrorKind != "" {
		clauses = append(clauses, "error_kind = ?")
		args = append(args, o.ErrorKind)
	}

	if o.Success != nil {
		clauses = append(clauses, "success = ?")
		args = append(args, *o.Success)
	}

	if o.StartTime != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, o.StartTime.UTC())
	}

	if o.EndTime != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, o.EndTime.UTC())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (o ListOptions) orderBy() string {
	column, ok := sortColumns[o.SortBy]
	if !ok {
		column = "timestamp"
	}

	order := "DESC"
	if strings.EqualFold(o.SortOrder, "ASC") {
		order = "ASC"
	}

	return fmt.Sprintf(" ORDER BY %s %s, id %s", column, order, order)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSynthesisEvent(row rowScanner) (*events.SynthesisEvent, error) {
	var event events.SynthesisEvent

	err := row.Scan(
		&event.UUID, &event.RequestID, &event.Timestamp,
		&event.TextLength, &event.RequestedVoice,
		&event.ResolvedVoice, &event.UsedFallback, &event.AudioBytes, &event.ContentType,
		&event.ProcessingTime, &event.Success, &event.ErrorKind, &event.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	return &event, nil
}
