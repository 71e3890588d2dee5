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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/logging"
	"github.com/loqalabs/loqa-tts/internal/security"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

// Placeholders recognised in command arguments
const (
	PlaceholderText   = "{text}"
	PlaceholderVoice  = "{voice}"
	PlaceholderOutput = "{output}"
)

// waitDelay bounds how long a killed command may keep its pipes open
const waitDelay = 2 * time.Second

// maxStderr bounds how much of a failing command's stderr ends up in errors
const maxStderr = 2048

// CommandModel runs a local synthesis binary such as piper or espeak-ng.
//
// Text is passed through {text}, or on stdin when no argument carries the
// placeholder. Audio is read from {output}, or from stdout when no argument
// carries that placeholder.
type CommandModel struct {
	path      string
	args      []string
	voices    []string
	timeout   time.Duration
	semaphore chan struct{}
}

// NewCommandModel resolves the binary and validates the configured voices
func NewCommandModel(cfg config.ModelConfig) (*CommandModel, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("model command cannot be empty")
	}

	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("model command not found: %w", err)
	}

	for _, id := range cfg.CommandVoices {
		if err := security.ValidateVoiceID(id); err != nil {
			return nil, fmt.Errorf("voice %q: %w", security.SanitizeLogInput(id), err)
		}
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	if logging.Sugar != nil {
		logging.Sugar.Infow("🔊 Command model initialized",
			"command", path,
			"voices", len(cfg.CommandVoices),
			"max_concurrent", maxConcurrent,
		)
	}

	return &CommandModel{
		path:      path,
		args:      append([]string(nil), cfg.CommandArgs...),
		voices:    append([]string(nil), cfg.CommandVoices...),
		timeout:   cfg.Timeout,
		semaphore: make(chan struct{}, maxConcurrent),
	}, nil
}

// Name identifies the backend
func (m *CommandModel) Name() string {
	return config.BackendCommand
}

// Voices returns the configured catalog; none configured means single-voice
func (m *CommandModel) Voices(_ context.Context) (voice.Catalog, error) {
	if len(m.voices) == 0 {
		return voice.NoCatalog(), nil
	}
	return voice.NewCatalog(m.voices), nil
}

// Generate runs the binary once and leaves its audio at dst
func (m *CommandModel) Generate(ctx context.Context, text string, v voice.Resolved, dst string) error {
	if text == "" {
		return fmt.Errorf("text cannot be empty")
	}
	if id, ok := v.Get(); ok {
		if err := security.ValidateVoiceID(id); err != nil {
			return fmt.Errorf("voice %q: %w", security.SanitizeLogInput(id), err)
		}
	}

	select {
	case m.semaphore <- struct{}{}:
		defer func() { <-m.semaphore }()
	case <-ctx.Done():
		return fmt.Errorf("waiting for a generation slot: %w", ctx.Err())
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	inv := expandArgs(m.args, text, v, dst)
	cmd := exec.CommandContext(ctx, m.path, inv.args...)
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if inv.textOnStdin {
		cmd.Stdin = strings.NewReader(text)
	}

	var out *os.File
	if inv.audioOnStdout {
		f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open output: %w", err)
		}
		out = f
		cmd.Stdout = f
	}

	startTime := time.Now()
	logging.LogModelOperation("generate_start",
		zap.String("backend", m.Name()),
		zap.String("voice", voice.Describe(v)),
		zap.Int("text_length", len(text)),
	)

	err := cmd.Run()
	if out != nil {
		if closeErr := out.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to write audio: %w", closeErr)
		}
	}
	if err != nil {
		return fmt.Errorf("synthesis command failed: %w%s", err, stderrSuffix(stderr.Bytes()))
	}

	logging.LogModelOperation("generate_complete",
		zap.String("backend", m.Name()),
		zap.String("voice", voice.Describe(v)),
		zap.Duration("processing_time", time.Since(startTime)),
	)

	return nil
}

// Close cleans up resources
func (m *CommandModel) Close() error {
	return nil
}

type invocation struct {
	args          []string
	textOnStdin   bool
	audioOnStdout bool
}

// expandArgs substitutes placeholders. A voice-less call drops every
// argument mentioning {voice}, together with the flag right before a bare
// "{voice}" argument (as in "--speaker {voice}").
func expandArgs(template []string, text string, v voice.Resolved, output string) invocation {
	id, hasVoice := v.Get()
	inv := invocation{textOnStdin: true, audioOnStdout: true}
	replacer := strings.NewReplacer(PlaceholderText, text, PlaceholderVoice, id, PlaceholderOutput, output)

	for i, arg := range template {
		if strings.Contains(arg, PlaceholderVoice) && !hasVoice {
			if arg == PlaceholderVoice && len(inv.args) > 0 && isFlag(template[i-1]) {
				inv.args = inv.args[:len(inv.args)-1]
			}
			continue
		}

		if strings.Contains(arg, PlaceholderText) {
			inv.textOnStdin = false
		}
		if strings.Contains(arg, PlaceholderOutput) {
			inv.audioOnStdout = false
		}

		inv.args = append(inv.args, replacer.Replace(arg))
	}

	return inv
}

func isFlag(arg string) bool {
	return strings.HasPrefix(arg, "-") && !strings.Contains(arg, "=")
}

func stderrSuffix(stderr []byte) string {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return ""
	}
	if len(msg) > maxStderr {
		msg = msg[len(msg)-maxStderr:]
	}
	return ": " + security.SanitizeLogInput(msg)
}
