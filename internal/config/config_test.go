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

package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.GRPCPort != 50052 {
		t.Errorf("Server.GRPCPort = %d, want %d", cfg.Server.GRPCPort, 50052)
	}

	if cfg.Model.Backend != BackendHTTP {
		t.Errorf("Model.Backend = %q, want %q", cfg.Model.Backend, BackendHTTP)
	}
	if cfg.Model.ID != "sesame/csm-1b" {
		t.Errorf("Model.ID = %q, want %q", cfg.Model.ID, "sesame/csm-1b")
	}
	if cfg.Model.VoicesPath != "" {
		t.Errorf("Model.VoicesPath = %q, want empty", cfg.Model.VoicesPath)
	}
	if cfg.Model.MaxConcurrent != 4 {
		t.Errorf("Model.MaxConcurrent = %d, want %d", cfg.Model.MaxConcurrent, 4)
	}
	if cfg.Model.Format != "wav" {
		t.Errorf("Model.Format = %q, want %q", cfg.Model.Format, "wav")
	}

	if cfg.Synthesis.VoiceFallback != VoiceFallbackFirst {
		t.Errorf("Synthesis.VoiceFallback = %q, want %q", cfg.Synthesis.VoiceFallback, VoiceFallbackFirst)
	}
	if cfg.Synthesis.MediaType != "audio/wav" {
		t.Errorf("Synthesis.MediaType = %q, want %q", cfg.Synthesis.MediaType, "audio/wav")
	}
	if cfg.Synthesis.AudioExt != "wav" {
		t.Errorf("Synthesis.AudioExt = %q, want %q", cfg.Synthesis.AudioExt, "wav")
	}
	if cfg.Synthesis.TempDir != os.TempDir() {
		t.Errorf("Synthesis.TempDir = %q, want %q", cfg.Synthesis.TempDir, os.TempDir())
	}
	if !cfg.Synthesis.FallbackEnabled {
		t.Error("Synthesis.FallbackEnabled = false, want true")
	}

	if cfg.Storage.DBPath != "" {
		t.Errorf("Storage.DBPath = %q, want empty", cfg.Storage.DBPath)
	}
	if cfg.NATS.URL != "" {
		t.Errorf("NATS.URL = %q, want empty", cfg.NATS.URL)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name: "Server configuration",
			envVars: map[string]string{
				"TTS_HOST":          "127.0.0.1",
				"TTS_PORT":          "3000",
				"TTS_GRPC_PORT":     "50060",
				"TTS_WRITE_TIMEOUT": "90s",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Server.Host != "127.0.0.1" {
					t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
				}
				if cfg.Server.Port != 3000 {
					t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 3000)
				}
				if cfg.Server.GRPCPort != 50060 {
					t.Errorf("Server.GRPCPort = %d, want %d", cfg.Server.GRPCPort, 50060)
				}
				if cfg.Server.WriteTimeout != 90*time.Second {
					t.Errorf("Server.WriteTimeout = %v, want %v", cfg.Server.WriteTimeout, 90*time.Second)
				}
			},
		},
		{
			name: "Command backend",
			envVars: map[string]string{
				"TTS_BACKEND":        "COMMAND",
				"TTS_COMMAND":        "piper",
				"TTS_COMMAND_ARGS":   "--model en.onnx --speaker {voice} --output_file {output}",
				"TTS_COMMAND_VOICES": "p225, p226,,p227",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Model.Backend != BackendCommand {
					t.Errorf("Model.Backend = %q, want %q", cfg.Model.Backend, BackendCommand)
				}
				if got := strings.Join(cfg.Model.CommandArgs, "|"); got != "--model|en.onnx|--speaker|{voice}|--output_file|{output}" {
					t.Errorf("Model.CommandArgs = %q", got)
				}
				if got := strings.Join(cfg.Model.CommandVoices, ","); got != "p225,p226,p227" {
					t.Errorf("Model.CommandVoices = %q, want %q", got, "p225,p226,p227")
				}
			},
		},
		{
			name: "Model token falls back to Hugging Face token",
			envVars: map[string]string{
				"HUGGINGFACE_HUB_TOKEN": "hf_secret",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Model.Token != "hf_secret" {
					t.Errorf("Model.Token = %q, want %q", cfg.Model.Token, "hf_secret")
				}
			},
		},
		{
			name: "Synthesis configuration",
			envVars: map[string]string{
				"TTS_DEFAULT_VOICE":    "p225",
				"TTS_VOICE_FALLBACK":   "Configured",
				"TTS_MEDIA_TYPE":       "audio/mpeg",
				"TTS_AUDIO_EXT":        ".mp3",
				"TTS_FALLBACK_ENABLED": "false",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Synthesis.DefaultVoice != "p225" {
					t.Errorf("Synthesis.DefaultVoice = %q, want %q", cfg.Synthesis.DefaultVoice, "p225")
				}
				if cfg.Synthesis.VoiceFallback != VoiceFallbackConfigured {
					t.Errorf("Synthesis.VoiceFallback = %q, want %q", cfg.Synthesis.VoiceFallback, VoiceFallbackConfigured)
				}
				if cfg.Synthesis.MediaType != "audio/mpeg" {
					t.Errorf("Synthesis.MediaType = %q, want %q", cfg.Synthesis.MediaType, "audio/mpeg")
				}
				if cfg.Synthesis.AudioExt != "mp3" {
					t.Errorf("Synthesis.AudioExt = %q, want %q", cfg.Synthesis.AudioExt, "mp3")
				}
				if cfg.Synthesis.FallbackEnabled {
					t.Error("Synthesis.FallbackEnabled = true, want false")
				}
			},
		},
		{
			name: "Storage configuration",
			envVars: map[string]string{
				"TTS_DB_PATH":         "/var/lib/loqa-tts/events.db",
				"TTS_EVENT_RETENTION": "720h",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Storage.DBPath != "/var/lib/loqa-tts/events.db" {
					t.Errorf("Storage.DBPath = %q", cfg.Storage.DBPath)
				}
				if cfg.Storage.EventRetention != 720*time.Hour {
					t.Errorf("Storage.EventRetention = %v, want %v", cfg.Storage.EventRetention, 720*time.Hour)
				}
			},
		},
		{
			name: "Invalid numbers keep defaults",
			envVars: map[string]string{
				"TTS_MAX_CONCURRENT": "lots",
				"TTS_TIMEOUT":        "forever",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Model.MaxConcurrent != 4 {
					t.Errorf("Model.MaxConcurrent = %d, want %d", cfg.Model.MaxConcurrent, 4)
				}
				if cfg.Model.Timeout != 2*time.Minute {
					t.Errorf("Model.Timeout = %v, want %v", cfg.Model.Timeout, 2*time.Minute)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
	}{
		{
			name:    "Port out of range",
			envVars: map[string]string{"TTS_PORT": "70000"},
			wantErr: "invalid server port",
		},
		{
			name:    "Unknown backend",
			envVars: map[string]string{"TTS_BACKEND": "grpc"},
			wantErr: "unknown model backend",
		},
		{
			name:    "Command backend without command",
			envVars: map[string]string{"TTS_BACKEND": "command"},
			wantErr: "model command must be provided",
		},
		{
			name:    "Configured fallback without default voice",
			envVars: map[string]string{"TTS_VOICE_FALLBACK": "configured"},
			wantErr: "requires a default voice",
		},
		{
			name:    "Unknown fallback policy",
			envVars: map[string]string{"TTS_VOICE_FALLBACK": "random"},
			wantErr: "unknown voice fallback policy",
		},
		{
			name:    "Non-positive concurrency",
			envVars: map[string]string{"TTS_MAX_CONCURRENT": "0"},
			wantErr: "max concurrent must be positive",
		},
		{
			name:    "Negative event retention",
			envVars: map[string]string{"TTS_EVENT_RETENTION": "-1h"},
			wantErr: "event retention cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

// clearEnvVars blanks every variable Load reads; t.Setenv restores them afterwards
func clearEnvVars(t *testing.T) {
	t.Helper()

	envVars := []string{
		"TTS_HOST", "TTS_PORT", "TTS_GRPC_PORT", "TTS_READ_TIMEOUT", "TTS_WRITE_TIMEOUT",
		"TTS_BACKEND", "TTS_MODEL_ID", "TTS_DEVICE", "TTS_MODEL_URL", "TTS_SPEECH_PATH",
		"TTS_VOICES_PATH", "TTS_MODEL_TOKEN", "TTS_RESPONSE_FORMAT", "HUGGINGFACE_HUB_TOKEN", "TTS_COMMAND",
		"TTS_COMMAND_ARGS", "TTS_COMMAND_VOICES", "TTS_MAX_CONCURRENT", "TTS_TIMEOUT",
		"TTS_DEFAULT_VOICE", "TTS_VOICE_FALLBACK", "TTS_MEDIA_TYPE", "TTS_AUDIO_EXT",
		"TTS_TEMP_DIR", "TTS_FALLBACK_ENABLED", "TTS_DB_PATH", "TTS_EVENT_RETENTION",
		"LOG_LEVEL", "LOG_FORMAT",
		"NATS_URL", "NATS_SUBJECT", "NATS_MAX_RECONNECT", "NATS_RECONNECT_WAIT",
	}

	for _, envVar := range envVars {
		t.Setenv(envVar, "")
	}
}
