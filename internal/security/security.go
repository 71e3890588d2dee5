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

package security

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidVoiceID is returned when a voice ID format is invalid
	ErrInvalidVoiceID = errors.New("invalid voice ID")

	// voiceIDPattern allows the identifiers used by common TTS models
	// (af_bella, p225, en_US-lessac-medium, speaker.0)
	voiceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

// SanitizeLogInput removes newline characters to prevent log injection attacks
// This function should be used for all user-controlled data before logging
func SanitizeLogInput(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	return sanitized
}

// PreviewText returns a sanitized prefix of at most maxRunes runes, suffixed
// with "…" when the input was cut.
func PreviewText(input string, maxRunes int) string {
	sanitized := SanitizeLogInput(input)
	if maxRunes <= 0 || utf8.RuneCountInString(sanitized) <= maxRunes {
		return sanitized
	}

	runes := []rune(sanitized)
	return string(runes[:maxRunes]) + "…"
}

// ValidateVoiceID ensures a voice ID is safe to hand to a synthesis backend
// as a command-line argument: no leading dash, no path separators, no
// parent directory references.
func ValidateVoiceID(voiceID string) error {
	if voiceID == "" {
		return ErrInvalidVoiceID
	}

	if strings.Contains(voiceID, "/") || strings.Contains(voiceID, "\\") || strings.Contains(voiceID, "..") {
		return ErrInvalidVoiceID
	}

	if !voiceIDPattern.MatchString(voiceID) {
		return ErrInvalidVoiceID
	}

	return nil
}
