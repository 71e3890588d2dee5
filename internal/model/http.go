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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/logging"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

// SpeechRequest is the body posted to an OpenAI-compatible speech endpoint
type SpeechRequest struct {
	Model  string `json:"model"`
	Input  string `json:"input"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"response_format,omitempty"`
}

// VoicesResponse represents the response from the voices endpoint
type VoicesResponse struct {
	Voices []string `json:"voices"`
}

// HTTPModel talks to a model served behind an inference server
// (Kokoro-FastAPI, openedai-speech, a transformers pipeline wrapper).
// Without a voices endpoint it behaves as a single-voice model.
type HTTPModel struct {
	baseURL    string
	speechPath string
	voicesPath string
	token      string
	modelID    string
	format     string
	client     *http.Client
	timeout    time.Duration
	semaphore  chan struct{} // Limits concurrent generation calls
}

// NewHTTPModel creates the client and checks the server is reachable
func NewHTTPModel(cfg config.ModelConfig) (*HTTPModel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("model URL cannot be empty")
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	m := &HTTPModel{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		speechPath: ensureLeadingSlash(cfg.SpeechPath),
		token:      cfg.Token,
		modelID:    cfg.ID,
		format:     cfg.Format,
		client:     &http.Client{},
		timeout:    cfg.Timeout,
		semaphore:  make(chan struct{}, maxConcurrent),
	}
	if cfg.VoicesPath != "" {
		m.voicesPath = ensureLeadingSlash(cfg.VoicesPath)
	}

	if err := m.testConnection(); err != nil {
		return nil, fmt.Errorf("failed to connect to model server: %w", err)
	}

	if logging.Sugar != nil {
		logging.Sugar.Infow("🔊 HTTP model client initialized",
			"url", cfg.URL,
			"model", cfg.ID,
			"multi_voice", m.voicesPath != "",
			"max_concurrent", maxConcurrent,
		)
	}

	return m, nil
}

// Name identifies the backend
func (m *HTTPModel) Name() string {
	return config.BackendHTTP
}

// Voices fetches the catalog from the server on every call
func (m *HTTPModel) Voices(ctx context.Context) (voice.Catalog, error) {
	if m.voicesPath == "" {
		return voice.NoCatalog(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+m.voicesPath, nil)
	if err != nil {
		return voice.NoCatalog(), fmt.Errorf("failed to create voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	m.authorize(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return voice.NoCatalog(), fmt.Errorf("failed to fetch voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return voice.NoCatalog(), fmt.Errorf("voices request failed with status %d", resp.StatusCode)
	}

	ids, err := decodeVoices(resp.Body)
	if err != nil {
		return voice.NoCatalog(), err
	}

	logging.LogDebug("🔊 Retrieved available voices", zap.Int("count", len(ids)))

	return voice.NewCatalog(ids), nil
}

// Generate posts the text and streams the returned audio into dst
func (m *HTTPModel) Generate(ctx context.Context, text string, v voice.Resolved, dst string) error {
	if text == "" {
		return fmt.Errorf("text cannot be empty")
	}

	select {
	case m.semaphore <- struct{}{}:
		defer func() { <-m.semaphore }()
	case <-ctx.Done():
		return fmt.Errorf("waiting for a generation slot: %w", ctx.Err())
	}

	startTime := time.Now()

	request := SpeechRequest{
		Model:  m.modelID,
		Input:  text,
		Voice:  voice.Describe(v),
		Format: m.format,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal speech request: %w", err)
	}

	logging.LogModelOperation("generate_start",
		zap.String("backend", m.Name()),
		zap.String("voice", request.Voice),
		zap.Int("text_length", len(text)),
		zap.String("format", m.format),
	)

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+m.speechPath, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")
	m.authorize(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logging.LogWarn("Model server rejected speech request",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", string(body)),
		)
		return fmt.Errorf("speech request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	written, err := writeFile(dst, resp.Body)
	if err != nil {
		return err
	}

	logging.LogModelOperation("generate_complete",
		zap.String("backend", m.Name()),
		zap.String("voice", request.Voice),
		zap.Duration("processing_time", time.Since(startTime)),
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.Int64("bytes", written),
	)

	return nil
}

// Close cleans up resources
func (m *HTTPModel) Close() error {
	m.client.CloseIdleConnections()
	return nil
}

func (m *HTTPModel) authorize(req *http.Request) {
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
}

// testConnection probes the voices endpoint, or the base URL for
// single-voice servers
func (m *HTTPModel) testConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	probe := m.baseURL + m.voicesPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
	if err != nil {
		return fmt.Errorf("failed to create test request: %w", err)
	}
	m.authorize(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	defer resp.Body.Close()

	if m.voicesPath != "" && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("voices endpoint returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("service health check failed with status %d", resp.StatusCode)
	}

	return nil
}

// decodeVoices accepts {"voices": [...]} as well as a bare JSON array
func decodeVoices(r io.Reader) ([]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read voices response: %w", err)
	}

	var wrapped VoicesResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Voices, nil
	}

	var bare []string
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("failed to decode voices response: %w", err)
	}
	return bare, nil
}

// writeFile copies r into a freshly truncated file at path
func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to open output: %w", err)
	}

	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("failed to write audio: %w", err)
	}
	return written, nil
}

func ensureLeadingSlash(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
