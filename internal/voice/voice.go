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

// Package voice decides which voice a model is asked to speak with.
package voice

import (
	"errors"
	"strings"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/logging"
	"github.com/loqalabs/loqa-tts/internal/security"
)

// ErrCatalogUnavailable marks a failed catalog lookup. It never reaches
// callers of the synthesis pipeline: a failed lookup is treated as a
// single-voice model.
var ErrCatalogUnavailable = errors.New("voice catalog unavailable")

// Resolved is the voice argument for one generation call. None means the
// model is invoked without a voice argument.
type Resolved = mo.Option[string]

// None returns a Resolved that omits the voice argument.
func None() Resolved {
	return mo.None[string]()
}

// Use returns a Resolved that passes id as the voice argument.
func Use(id string) Resolved {
	return mo.Some(id)
}

// Describe renders a Resolved for logs and audit records.
func Describe(v Resolved) string {
	return v.OrElse("")
}

// Catalog is the ordered set of voice IDs a loaded model exposes. An absent
// catalog describes a single-voice model.
type Catalog struct {
	voices mo.Option[[]string]
}

// NoCatalog returns the catalog of a single-voice model.
func NoCatalog() Catalog {
	return Catalog{voices: mo.None[[]string]()}
}

// NewCatalog builds a catalog from the IDs a model reports. Blank IDs are
// dropped and duplicates collapse onto their first occurrence, so the
// model-defined order is preserved.
func NewCatalog(ids []string) Catalog {
	cleaned := lo.FilterMap(ids, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	})
	return Catalog{voices: mo.Some(lo.Uniq(cleaned))}
}

// Present reports whether the model exposes a catalog at all.
func (c Catalog) Present() bool {
	return c.voices.IsPresent()
}

// MultiVoice reports whether the catalog offers at least one voice.
func (c Catalog) MultiVoice() bool {
	return len(c.voices.OrEmpty()) > 0
}

// Voices returns a copy of the catalog entries in model-defined order.
func (c Catalog) Voices() []string {
	voices := c.voices.OrEmpty()
	out := make([]string, len(voices))
	copy(out, voices)
	return out
}

// Contains reports whether id is a catalog member.
func (c Catalog) Contains(id string) bool {
	return lo.Contains(c.voices.OrEmpty(), id)
}

// First returns the first catalog entry, if any.
func (c Catalog) First() mo.Option[string] {
	voices := c.voices.OrEmpty()
	if len(voices) == 0 {
		return mo.None[string]()
	}
	return mo.Some(voices[0])
}

// Policy selects the default voice used when a request names no voice or an
// unknown one.
type Policy string

const (
	// PolicyFirst falls back to the first catalog entry.
	PolicyFirst Policy = "first"
	// PolicyConfigured falls back to a configured voice when the catalog
	// has it, and to the first entry otherwise.
	PolicyConfigured Policy = "configured"
)

// Resolver maps requested voices onto voices a model can use.
type Resolver struct {
	policy       Policy
	defaultVoice string
}

// NewResolver creates a resolver. An unknown policy behaves as PolicyFirst.
func NewResolver(policy Policy, defaultVoice string) *Resolver {
	if policy != PolicyConfigured {
		policy = PolicyFirst
	}
	return &Resolver{policy: policy, defaultVoice: strings.TrimSpace(defaultVoice)}
}

// Resolve never fails: a missing or unknown voice degrades to the default.
func (r *Resolver) Resolve(requested string, catalog Catalog) Resolved {
	if !catalog.MultiVoice() {
		return None()
	}

	requested = strings.TrimSpace(requested)
	if requested != "" && catalog.Contains(requested) {
		return Use(requested)
	}

	fallback := r.fallback(catalog)
	if requested != "" {
		logging.LogDebug("Requested voice not in catalog, using default",
			zap.String("requested", security.SanitizeLogInput(requested)),
			zap.String("voice", Describe(fallback)),
		)
	}
	return fallback
}

func (r *Resolver) fallback(catalog Catalog) Resolved {
	if r.policy == PolicyConfigured && r.defaultVoice != "" && catalog.Contains(r.defaultVoice) {
		return Use(r.defaultVoice)
	}
	first, _ := catalog.First().Get()
	return Use(first)
}
