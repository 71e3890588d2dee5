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

// Package synthesis turns one text request into one complete waveform.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/logging"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/loqalabs/loqa-tts/internal/security"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

const (
	attemptPrimary  = "primary"
	attemptFallback = "fallback"
)

// Request is one synthesis call
type Request struct {
	RequestID string
	Text      string
	Voice     string // Requested voice; empty when not requested
}

// Outcome is a successful synthesis
type Outcome struct {
	Audio        []byte
	ContentType  string
	Voice        voice.Resolved
	UsedFallback bool
}

// Report summarises one handled request for audit sinks
type Report struct {
	RequestID      string
	TextLength     int
	RequestedVoice string
	ResolvedVoice  string
	UsedFallback   bool
	AudioBytes     int
	ContentType    string
	Duration       time.Duration
	Err            error
}

// Recorder receives a Report after every handled request. Implementations
// must not fail the request; they log their own errors.
type Recorder interface {
	Record(ctx context.Context, report Report)
}

// Options configure the orchestrator
type Options struct {
	MediaType       string // Content type attached to every payload
	FallbackEnabled bool   // Retry once without a voice after a failed attempt
	Recorder        Recorder
}

// Orchestrator drives requests through validation, voice resolution,
// generation and artifact cleanup. It holds no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	runtime  *model.Runtime
	resolver *voice.Resolver
	store    *artifact.Store
	opts     Options
}

// New creates an orchestrator over a runtime built at startup
func New(runtime *model.Runtime, resolver *voice.Resolver, store *artifact.Store, opts Options) *Orchestrator {
	if opts.MediaType == "" {
		opts.MediaType = "audio/wav"
	}
	return &Orchestrator{
		runtime:  runtime,
		resolver: resolver,
		store:    store,
		opts:     opts,
	}
}

// Runtime returns the model runtime the orchestrator serves
func (o *Orchestrator) Runtime() *model.Runtime {
	return o.runtime
}

// Catalog returns the live voice catalog; failures read as no catalog
func (o *Orchestrator) Catalog(ctx context.Context) voice.Catalog {
	m := o.runtime.Model()
	if m == nil {
		return voice.NoCatalog()
	}
	return o.catalog(ctx, m, "")
}

// Handle synthesizes one request. Every returned error is a *Error.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Outcome, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	start := time.Now()
	outcome, err := o.handle(ctx, req)

	if o.opts.Recorder != nil {
		report := Report{
			RequestID:      req.RequestID,
			TextLength:     len(req.Text),
			RequestedVoice: req.Voice,
			Duration:       time.Since(start),
			Err:            err,
		}
		if outcome != nil {
			report.ResolvedVoice = voice.Describe(outcome.Voice)
			report.UsedFallback = outcome.UsedFallback
			report.AudioBytes = len(outcome.Audio)
			report.ContentType = outcome.ContentType
		}
		o.opts.Recorder.Record(context.WithoutCancel(ctx), report)
	}

	return outcome, err
}

func (o *Orchestrator) handle(ctx context.Context, req Request) (*Outcome, error) {
	if req.Text == "" {
		return nil, &Error{Kind: KindInvalidInput, Detail: "text is required"}
	}

	if !o.runtime.Ready() {
		return nil, &Error{
			Kind:   KindServiceUnavailable,
			Detail: "model is not loaded",
			Err:    o.runtime.InitError(),
		}
	}
	m := o.runtime.Model()

	logging.LogSynthesis(req.RequestID, "received",
		zap.Int("text_length", len(req.Text)),
		zap.String("text_preview", security.PreviewText(req.Text, 40)),
		zap.String("requested_voice", security.SanitizeLogInput(req.Voice)),
	)

	// A disconnecting client does not abort generation; the backend's own
	// timeout bounds it.
	genCtx := context.WithoutCancel(ctx)

	resolved := o.resolver.Resolve(req.Voice, o.catalog(genCtx, m, req.RequestID))

	a := o.store.Allocate()
	defer func() { _ = a.Release() }()

	attempts := []voice.Resolved{resolved}
	if o.opts.FallbackEnabled {
		attempts = append(attempts, voice.None())
	}

	failures := attemptFailures()
	for i, v := range attempts {
		name := attemptPrimary
		if i > 0 {
			name = attemptFallback
		}

		logging.LogSynthesis(req.RequestID, name, zap.String("voice", voice.Describe(v)))

		if err := m.Generate(genCtx, req.Text, v, a.Path()); err != nil {
			failures = multierror.Append(failures, &AttemptError{Attempt: name, Voice: v, Err: err})
			logging.LogWarn("Generation attempt failed",
				zap.String("request_id", req.RequestID),
				zap.String("attempt", name),
				zap.Error(err),
			)
			// Partial output must not leak into the next attempt or outlive the request
			_ = a.Release()
			continue
		}

		audio, err := a.Consume()
		if err != nil {
			return nil, &Error{Kind: KindSynthesisFailed, Detail: "failed to read generated audio", Err: err}
		}
		if len(audio) == 0 {
			return nil, &Error{Kind: KindSynthesisFailed, Detail: "model produced no audio"}
		}

		logging.LogSynthesis(req.RequestID, "completed",
			zap.String("attempt", name),
			zap.Int("audio_bytes", len(audio)),
		)

		return &Outcome{
			Audio:        audio,
			ContentType:  o.opts.MediaType,
			Voice:        v,
			UsedFallback: i > 0,
		}, nil
	}

	err := failures.ErrorOrNil()
	if err == nil {
		err = errors.New("no generation attempt was made")
	}
	return nil, &Error{Kind: KindSynthesisFailed, Detail: err.Error(), Err: err}
}

// catalog queries the model; a failed lookup degrades to no catalog
func (o *Orchestrator) catalog(ctx context.Context, m model.Model, requestID string) voice.Catalog {
	catalog, err := m.Voices(ctx)
	if err != nil {
		logging.LogWarn("Voice catalog lookup failed, treating model as single-voice",
			zap.String("request_id", requestID),
			zap.Error(fmt.Errorf("%w: %v", voice.ErrCatalogUnavailable, err)),
		)
		return voice.NoCatalog()
	}
	return catalog
}
