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

package synthesis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/loqalabs/loqa-tts/internal/voice"
)

// Kind classifies a failed synthesis request
type Kind string

const (
	// KindInvalidInput is reported for empty or missing text
	KindInvalidInput Kind = "invalid_input"
	// KindServiceUnavailable is reported while the model failed to load
	KindServiceUnavailable Kind = "service_unavailable"
	// KindSynthesisFailed is reported when no attempt produced audio
	KindSynthesisFailed Kind = "synthesis_failed"
)

// Error is the only error type Handle returns
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind of a synthesis error
func KindOf(err error) (Kind, bool) {
	var synthErr *Error
	if errors.As(err, &synthErr) {
		return synthErr.Kind, true
	}
	return "", false
}

// AttemptError records why one generation attempt failed
type AttemptError struct {
	Attempt string // "primary" or "fallback"
	Voice   voice.Resolved
	Err     error
}

func (e *AttemptError) Error() string {
	target := "no voice"
	if id, ok := e.Voice.Get(); ok {
		target = "voice " + id
	}
	return fmt.Sprintf("%s attempt (%s): %v", e.Attempt, target, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// attemptFailures collects attempt errors into a single line
func attemptFailures() *multierror.Error {
	return &multierror.Error{
		ErrorFormat: func(errs []error) string {
			parts := make([]string, len(errs))
			for i, err := range errs {
				parts[i] = err.Error()
			}
			return strings.Join(parts, "; ")
		},
	}
}
