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

package logging

import (
	"errors"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	originalLevel := os.Getenv("LOG_LEVEL")
	originalFormat := os.Getenv("LOG_FORMAT")
	defer func() {
		_ = os.Setenv("LOG_LEVEL", originalLevel)
		_ = os.Setenv("LOG_FORMAT", originalFormat)
	}()

	tests := []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "Default values"},
		{name: "Info level console format", logLevel: "info", logFormat: "console"},
		{name: "Debug level JSON format", logLevel: "debug", logFormat: "json"},
		{name: "Invalid format defaults to console", logLevel: "info", logFormat: "invalid"},
		{name: "Invalid level defaults to info", logLevel: "invalid", logFormat: "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.logLevel != "" {
				_ = os.Setenv("LOG_LEVEL", tt.logLevel)
			} else {
				_ = os.Unsetenv("LOG_LEVEL")
			}
			if tt.logFormat != "" {
				_ = os.Setenv("LOG_FORMAT", tt.logFormat)
			} else {
				_ = os.Unsetenv("LOG_FORMAT")
			}

			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() unexpected error: %v", err)
			}

			if Logger == nil {
				t.Error("Logger should not be nil after initialization")
			}
			if Sugar == nil {
				t.Error("Sugar should not be nil after initialization")
			}

			Close()
		})
	}
}

func TestInitializeWithConfig_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled zapcore.Level
	}{
		{level: "debug", enabled: zapcore.DebugLevel},
		{level: "INFO", enabled: zapcore.InfoLevel},
		{level: "warn", enabled: zapcore.WarnLevel},
		{level: "bogus", enabled: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if err := InitializeWithConfig(LogConfig{Level: tt.level, Format: "json"}); err != nil {
				t.Fatalf("InitializeWithConfig() unexpected error: %v", err)
			}
			defer Close()

			if !Logger.Core().Enabled(tt.enabled) {
				t.Errorf("level %s should be enabled for %q", tt.enabled, tt.level)
			}
			if tt.enabled > zapcore.DebugLevel && Logger.Core().Enabled(tt.enabled-1) {
				t.Errorf("level %s should be disabled for %q", tt.enabled-1, tt.level)
			}
		})
	}
}

func fieldMap(entry observer.LoggedEntry) map[string]interface{} {
	fields := make(map[string]interface{})
	for _, field := range entry.Context {
		switch field.Type {
		case zapcore.StringType:
			fields[field.Key] = field.String
		case zapcore.Int64Type:
			fields[field.Key] = field.Integer
		case zapcore.ErrorType:
			fields[field.Key] = field.Interface.(error).Error()
		}
	}
	return fields
}

func TestLoggingFunctions(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	UseLogger(zap.New(core))
	defer UseLogger(nil)

	t.Run("LogSynthesis", func(t *testing.T) {
		LogSynthesis("req-1", "primary", zap.Int("text_length", 11))

		entry := recorded.All()[recorded.Len()-1]
		if entry.Message != "Synthesis" {
			t.Errorf("Expected message 'Synthesis', got %q", entry.Message)
		}
		fields := fieldMap(entry)
		if fields["component"] != "synthesis" {
			t.Errorf("Expected component 'synthesis', got %v", fields["component"])
		}
		if fields["request_id"] != "req-1" {
			t.Errorf("Expected request_id 'req-1', got %v", fields["request_id"])
		}
		if fields["stage"] != "primary" {
			t.Errorf("Expected stage 'primary', got %v", fields["stage"])
		}
		if fields["text_length"] != int64(11) {
			t.Errorf("Expected text_length 11, got %v", fields["text_length"])
		}
	})

	t.Run("LogModelOperation", func(t *testing.T) {
		LogModelOperation("generate_start", zap.String("voice", "p225"))

		fields := fieldMap(recorded.All()[recorded.Len()-1])
		if fields["component"] != "model" || fields["operation"] != "generate_start" {
			t.Errorf("unexpected fields: %v", fields)
		}
		if fields["voice"] != "p225" {
			t.Errorf("Expected voice 'p225', got %v", fields["voice"])
		}
	})

	t.Run("LogNATSEvent", func(t *testing.T) {
		LogNATSEvent("loqa.tts.events", "publish")

		entry := recorded.All()[recorded.Len()-1]
		if entry.Message != "NATS event" {
			t.Errorf("Expected message 'NATS event', got %q", entry.Message)
		}
		if fields := fieldMap(entry); fields["subject"] != "loqa.tts.events" {
			t.Errorf("Expected subject 'loqa.tts.events', got %v", fields["subject"])
		}
	})

	t.Run("LogDatabaseOperation", func(t *testing.T) {
		LogDatabaseOperation("insert", "synthesis_events")

		fields := fieldMap(recorded.All()[recorded.Len()-1])
		if fields["table"] != "synthesis_events" {
			t.Errorf("Expected table 'synthesis_events', got %v", fields["table"])
		}
	})

	t.Run("LogError", func(t *testing.T) {
		LogError(errors.New("boom"), "Something failed")

		entry := recorded.All()[recorded.Len()-1]
		if entry.Level != zapcore.ErrorLevel {
			t.Errorf("Expected error level, got %v", entry.Level)
		}
		if fields := fieldMap(entry); fields["error"] != "boom" {
			t.Errorf("Expected error 'boom', got %v", fields["error"])
		}
	})

	t.Run("LogInfo, LogWarn and LogDebug", func(t *testing.T) {
		LogInfo("listening")
		LogWarn("careful")
		LogDebug("details")

		logs := recorded.All()
		if logs[len(logs)-3].Level != zapcore.InfoLevel {
			t.Errorf("Expected info level, got %v", logs[len(logs)-3].Level)
		}
		if logs[len(logs)-2].Level != zapcore.WarnLevel {
			t.Errorf("Expected warn level, got %v", logs[len(logs)-2].Level)
		}
		if logs[len(logs)-1].Level != zapcore.DebugLevel {
			t.Errorf("Expected debug level, got %v", logs[len(logs)-1].Level)
		}
	})
}

func TestLoggingFunctions_NilLogger(t *testing.T) {
	originalLogger := Logger
	defer UseLogger(originalLogger)

	UseLogger(nil)

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("logging helpers panicked with nil logger: %v", r)
		}
	}()

	LogSynthesis("req", "stage")
	LogModelOperation("op")
	LogNATSEvent("subject", "action")
	LogDatabaseOperation("op", "table")
	LogError(errors.New("test"), "message")
	LogInfo("info")
	LogWarn("warning")
	LogDebug("debug")
	Sync()
}

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "Environment variable set",
			key:          "TEST_ENV_VAR",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "Environment variable not set",
			key:          "TEST_ENV_VAR_NOT_SET",
			defaultValue: "default",
			expected:     "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			} else {
				_ = os.Unsetenv(tt.key)
			}

			if result := getEnvOrDefault(tt.key, tt.defaultValue); result != tt.expected {
				t.Errorf("getEnvOrDefault(%q, %q) = %q, want %q", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func BenchmarkLogging(b *testing.B) {
	_ = InitializeWithConfig(LogConfig{Level: "info", Format: "json"})
	defer Close()

	b.Run("LogSynthesis", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			LogSynthesis("benchmark", "primary")
		}
	})

	b.Run("Sugar.Infow", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			Sugar.Infow("Benchmark message", "key", "value")
		}
	})
}
