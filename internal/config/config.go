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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Voice fallback policies for requests whose voice is absent or unknown
const (
	VoiceFallbackFirst      = "first"
	VoiceFallbackConfigured = "configured"
)

// Model backends
const (
	BackendHTTP    = "http"
	BackendCommand = "command"
)

// Config holds all configuration for the TTS service
type Config struct {
	Server    ServerConfig
	Model     ModelConfig
	Synthesis SynthesisConfig
	Storage   StorageConfig
	Logging   LoggingConfig
	NATS      NATSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string
	Port         int
	GRPCPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ModelConfig describes the speech model backend
type ModelConfig struct {
	Backend       string        // "http" or "command"
	ID            string        // Model identity reported by /health (e.g., "sesame/csm-1b")
	Device        string        // Compute device designation (e.g., "cuda", "cpu")
	URL           string        // Base URL of the inference server (http backend)
	SpeechPath    string        // Generation endpoint, relative to URL
	VoicesPath    string        // Voice catalog endpoint; empty means single-voice
	Token         string        // Optional bearer token for the inference server
	Format        string        // response_format requested from the inference server
	Command       string        // Synthesis binary (command backend)
	CommandArgs   []string      // Arguments with {text}, {voice}, {output} placeholders
	CommandVoices []string      // Voices the binary supports; empty means single-voice
	MaxConcurrent int           // Maximum concurrent generation calls
	Timeout       time.Duration // Per-generation timeout
}

// SynthesisConfig holds request pipeline configuration
type SynthesisConfig struct {
	DefaultVoice    string // Used by the "configured" fallback policy (e.g., "p225")
	VoiceFallback   string // "first" or "configured"
	MediaType       string // Media type of returned audio
	AudioExt        string // Extension of transient artifacts
	TempDir         string // Directory holding transient artifacts
	FallbackEnabled bool   // Retry once without a voice when generation fails
}

// StorageConfig holds audit store configuration
type StorageConfig struct {
	DBPath         string        // Empty disables the synthesis events store
	EventRetention time.Duration // Events older than this are pruned at startup; 0 keeps all
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	URL           string // Empty disables event publishing
	Subject       string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("TTS_HOST", "0.0.0.0"),
			Port:         getEnvInt("TTS_PORT", 8000),
			GRPCPort:     getEnvInt("TTS_GRPC_PORT", 50052),
			ReadTimeout:  getEnvDuration("TTS_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("TTS_WRITE_TIMEOUT", 5*time.Minute),
		},
		Model: ModelConfig{
			Backend:       strings.ToLower(getEnvString("TTS_BACKEND", BackendHTTP)),
			ID:            getEnvString("TTS_MODEL_ID", "sesame/csm-1b"),
			Device:        getEnvString("TTS_DEVICE", "cpu"),
			URL:           getEnvString("TTS_MODEL_URL", "http://localhost:8880/v1"),
			SpeechPath:    getEnvString("TTS_SPEECH_PATH", "/audio/speech"),
			VoicesPath:    os.Getenv("TTS_VOICES_PATH"),
			Token:         getEnvString("TTS_MODEL_TOKEN", os.Getenv("HUGGINGFACE_HUB_TOKEN")),
			Format:        getEnvString("TTS_RESPONSE_FORMAT", "wav"),
			Command:       os.Getenv("TTS_COMMAND"),
			CommandArgs:   strings.Fields(os.Getenv("TTS_COMMAND_ARGS")),
			CommandVoices: getEnvList("TTS_COMMAND_VOICES"),
			MaxConcurrent: getEnvInt("TTS_MAX_CONCURRENT", 4),
			Timeout:       getEnvDuration("TTS_TIMEOUT", 2*time.Minute),
		},
		Synthesis: SynthesisConfig{
			DefaultVoice:    os.Getenv("TTS_DEFAULT_VOICE"),
			VoiceFallback:   strings.ToLower(getEnvString("TTS_VOICE_FALLBACK", VoiceFallbackFirst)),
			MediaType:       getEnvString("TTS_MEDIA_TYPE", "audio/wav"),
			AudioExt:        strings.TrimPrefix(getEnvString("TTS_AUDIO_EXT", "wav"), "."),
			TempDir:         getEnvString("TTS_TEMP_DIR", os.TempDir()),
			FallbackEnabled: getEnvBool("TTS_FALLBACK_ENABLED", true),
		},
		Storage: StorageConfig{
			DBPath:         os.Getenv("TTS_DB_PATH"),
			EventRetention: getEnvDuration("TTS_EVENT_RETENTION", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			Subject:       getEnvString("NATS_SUBJECT", "loqa.tts.events"),
			MaxReconnect:  getEnvInt("NATS_MAX_RECONNECT", 10),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}

	switch c.Model.Backend {
	case BackendHTTP:
		if c.Model.URL == "" {
			return fmt.Errorf("model URL must be provided for the %s backend", BackendHTTP)
		}
	case BackendCommand:
		if c.Model.Command == "" {
			return fmt.Errorf("model command must be provided for the %s backend", BackendCommand)
		}
	default:
		return fmt.Errorf("unknown model backend: %q", c.Model.Backend)
	}

	if c.Model.MaxConcurrent <= 0 {
		return fmt.Errorf("model max concurrent must be positive: %d", c.Model.MaxConcurrent)
	}

	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model timeout must be positive: %s", c.Model.Timeout)
	}

	switch c.Synthesis.VoiceFallback {
	case VoiceFallbackFirst:
	case VoiceFallbackConfigured:
		if c.Synthesis.DefaultVoice == "" {
			return fmt.Errorf("voice fallback %q requires a default voice", VoiceFallbackConfigured)
		}
	default:
		return fmt.Errorf("unknown voice fallback policy: %q", c.Synthesis.VoiceFallback)
	}

	if c.Storage.EventRetention < 0 {
		return fmt.Errorf("event retention cannot be negative: %s", c.Storage.EventRetention)
	}

	if c.Synthesis.MediaType == "" {
		return fmt.Errorf("media type must be provided")
	}

	if c.Synthesis.AudioExt == "" {
		return fmt.Errorf("audio extension must be provided")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blank entries
func getEnvList(key string) []string {
	var values []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
