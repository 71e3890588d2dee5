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

package model

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/logging"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

// Model is a loaded speech-synthesis model.
type Model interface {
	// Name identifies the backend in logs
	Name() string

	// Voices returns the model's voice catalog; an absent catalog means a
	// single-voice model
	Voices(ctx context.Context) (voice.Catalog, error)

	// Generate synthesizes text and writes the waveform to dst. A None voice
	// invokes the model without a voice argument.
	Generate(ctx context.Context, text string, v voice.Resolved, dst string) error

	// Close cleans up resources
	Close() error
}

// Info describes the loaded model for health reporting.
type Info struct {
	ID      string `json:"model"`
	Backend string `json:"backend"`
	Device  string `json:"device"`
}

// Runtime is the process-wide model state: built once at startup and only
// read afterwards.
type Runtime struct {
	model   Model
	info    Info
	initErr error
}

// NewRuntime wraps a model that was (or failed to be) initialized. A nil
// model or a non-nil initErr yields a runtime that is not ready.
func NewRuntime(m Model, info Info, initErr error) *Runtime {
	if m == nil && initErr == nil {
		initErr = fmt.Errorf("no model loaded")
	}
	return &Runtime{model: m, info: info, initErr: initErr}
}

// Load builds the configured backend. It never fails: an initialization
// error leaves the runtime not ready so requests report the service as
// unavailable.
func Load(cfg config.ModelConfig) *Runtime {
	info := Info{ID: cfg.ID, Backend: cfg.Backend, Device: cfg.Device}

	var (
		m   Model
		err error
	)
	switch cfg.Backend {
	case config.BackendHTTP:
		m, err = NewHTTPModel(cfg)
	case config.BackendCommand:
		m, err = NewCommandModel(cfg)
	default:
		err = fmt.Errorf("unknown model backend: %q", cfg.Backend)
	}

	if err != nil {
		logging.LogError(err, "Model failed to initialize",
			zap.String("backend", cfg.Backend),
			zap.String("model", cfg.ID),
		)
		return NewRuntime(nil, info, err)
	}

	logging.LogModelOperation("loaded",
		zap.String("backend", m.Name()),
		zap.String("model", cfg.ID),
		zap.String("device", cfg.Device),
	)
	return NewRuntime(m, info, nil)
}

// Ready reports whether the model initialized successfully.
func (r *Runtime) Ready() bool {
	return r != nil && r.initErr == nil && r.model != nil
}

// Model returns the loaded model, nil when not ready.
func (r *Runtime) Model() Model {
	if !r.Ready() {
		return nil
	}
	return r.model
}

// Info returns the model description.
func (r *Runtime) Info() Info {
	if r == nil {
		return Info{}
	}
	return r.info
}

// InitError returns why the model is not ready.
func (r *Runtime) InitError() error {
	if r == nil {
		return fmt.Errorf("no model runtime")
	}
	return r.initErr
}

// Close releases the model.
func (r *Runtime) Close() error {
	if r == nil || r.model == nil {
		return nil
	}
	return r.model.Close()
}
