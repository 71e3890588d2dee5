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

package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SynthesisEvent is the audit record of one synthesis request
type SynthesisEvent struct {
	// Core identification
	UUID      string    `json:"uuid" db:"uuid"`
	RequestID string    `json:"request_id" db:"request_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// Request
	TextLength     int    `json:"text_length" db:"text_length"`
	RequestedVoice string `json:"requested_voice,omitempty" db:"requested_voice"`

	// Result
	ResolvedVoice  string `json:"resolved_voice,omitempty" db:"resolved_voice"`
	UsedFallback   bool   `json:"used_fallback" db:"used_fallback"`
	AudioBytes     int    `json:"audio_bytes" db:"audio_bytes"`
	ContentType    string `json:"content_type,omitempty" db:"content_type"`
	ProcessingTime int64  `json:"processing_time_ms" db:"processing_time_ms"`
	Success        bool   `json:"success" db:"success"`
	ErrorKind      string `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage   string `json:"error_message,omitempty" db:"error_message"`
}

// NewSynthesisEvent creates an event with a fresh UUID stamped now
func NewSynthesisEvent(requestID string) *SynthesisEvent {
	return &SynthesisEvent{
		UUID:      uuid.NewString(),
		RequestID: requestID,
		Timestamp: time.Now(),
		Success:   true,
	}
}

// SetResult records the produced audio
func (se *SynthesisEvent) SetResult(resolvedVoice string, usedFallback bool, audioBytes int, contentType string) {
	se.ResolvedVoice = resolvedVoice
	se.UsedFallback = usedFallback
	se.AudioBytes = audioBytes
	se.ContentType = contentType
}

// SetError marks the event as failed
func (se *SynthesisEvent) SetError(kind string, err error) {
	se.Success = false
	se.ErrorKind = kind
	if err != nil {
		se.ErrorMessage = err.Error()
	}
}

// SetProcessingTime records how long the request took
func (se *SynthesisEvent) SetProcessingTime(d time.Duration) {
	se.ProcessingTime = d.Milliseconds()
}

// IsValid performs basic validation on the event
func (se *SynthesisEvent) IsValid() error {
	if se.UUID == "" {
		return fmt.Errorf("UUID is required")
	}

	if se.RequestID == "" {
		return fmt.Errorf("requestID is required")
	}

	if se.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if se.TextLength < 0 || se.AudioBytes < 0 {
		return fmt.Errorf("sizes cannot be negative")
	}

	if !se.Success && se.ErrorKind == "" {
		return fmt.Errorf("failed events require an error kind")
	}

	return nil
}

// String returns a human-readable representation of the event
func (se *SynthesisEvent) String() string {
	return fmt.Sprintf("SynthesisEvent{UUID: %s, RequestID: %s, Voice: %q, Fallback: %t, Bytes: %d, Success: %t}",
		se.UUID, se.RequestID, se.ResolvedVoice, se.UsedFallback, se.AudioBytes, se.Success)
}
