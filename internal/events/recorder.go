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
	"context"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/logging"
	"github.com/loqalabs/loqa-tts/internal/synthesis"
)

// Store persists synthesis events
type Store interface {
	Insert(ctx context.Context, event *SynthesisEvent) error
}

// Publisher broadcasts synthesis events
type Publisher interface {
	PublishSynthesisEvent(event *SynthesisEvent) error
}

// Recorder turns orchestrator reports into audit events. Failures are
// logged and never reach the request.
type Recorder struct {
	store     Store
	publisher Publisher
}

// NewRecorder creates a recorder; either sink may be nil
func NewRecorder(store Store, publisher Publisher) *Recorder {
	return &Recorder{store: store, publisher: publisher}
}

// Record implements synthesis.Recorder
func (r *Recorder) Record(ctx context.Context, report synthesis.Report) {
	event := FromReport(report)

	var errs *multierror.Error
	if r.store != nil {
		if err := r.store.Insert(ctx, event); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishSynthesisEvent(event); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		logging.LogWarn("Failed to record synthesis event",
			zap.String("uuid", event.UUID),
			zap.String("request_id", event.RequestID),
			zap.Error(err),
		)
	}
}

// FromReport builds the audit event for one handled request
func FromReport(report synthesis.Report) *SynthesisEvent {
	event := NewSynthesisEvent(report.RequestID)
	event.TextLength = report.TextLength
	event.RequestedVoice = report.RequestedVoice
	event.SetProcessingTime(report.Duration)

	if report.Err != nil {
		kind, ok := synthesis.KindOf(report.Err)
		if !ok {
			kind = synthesis.KindSynthesisFailed
		}
		event.SetError(string(kind), report.Err)
		return event
	}

	event.SetResult(report.ResolvedVoice, report.UsedFallback, report.AudioBytes, report.ContentType)
	return event
}
