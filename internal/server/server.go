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

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/api"
	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/events"
	grpcserver "github.com/loqalabs/loqa-tts/internal/grpc"
	"github.com/loqalabs/loqa-tts/internal/logging"
	"github.com/loqalabs/loqa-tts/internal/messaging"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/loqalabs/loqa-tts/internal/storage"
	"github.com/loqalabs/loqa-tts/internal/synthesis"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

const shutdownTimeout = 30 * time.Second

// Server is the TTS service: HTTP synthesis API plus gRPC health
type Server struct {
	cfg    *config.Config
	router chi.Router
	server *http.Server
	health *grpcserver.HealthServer

	runtime      *model.Runtime
	orchestrator *synthesis.Orchestrator

	// Optional audit sinks
	db          *storage.Database
	eventsStore *storage.SynthesisEventsStore
	natsService *messaging.NATSService
}

// New loads the configured model and builds the server around it
func New(cfg *config.Config) (*Server, error) {
	return NewWithRuntime(cfg, model.Load(cfg.Model))
}

// NewWithRuntime builds the server around an already constructed runtime
func NewWithRuntime(cfg *config.Config, runtime *model.Runtime) (*Server, error) {
	store, err := artifact.NewStore(cfg.Synthesis.TempDir, cfg.Synthesis.AudioExt)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		runtime: runtime,
	}

	if err := s.configureAudit(); err != nil {
		return nil, err
	}

	opts := synthesis.Options{
		MediaType:       cfg.Synthesis.MediaType,
		FallbackEnabled: cfg.Synthesis.FallbackEnabled,
	}
	if s.eventsStore != nil || s.natsService != nil {
		opts.Recorder = events.NewRecorder(s.eventSink(), s.eventPublisher())
	}

	resolver := voice.NewResolver(voice.Policy(cfg.Synthesis.VoiceFallback), cfg.Synthesis.DefaultVoice)
	s.orchestrator = synthesis.New(runtime, resolver, store, opts)
	s.health = grpcserver.NewHealthServer(runtime)

	s.router = chi.NewRouter()
	s.routes()

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	logging.LogInfo("Server configured",
		zap.String("backend", runtime.Info().Backend),
		zap.String("model", runtime.Info().ID),
		zap.Bool("ready", runtime.Ready()),
		zap.String("artifact_dir", store.Dir()),
		zap.Bool("events_store", s.eventsStore != nil),
		zap.Bool("nats", s.natsService != nil),
	)
	return s, nil
}

// configureAudit opens the events database and NATS connection when configured.
// NATS being unreachable is not fatal; events are still stored locally.
func (s *Server) configureAudit() error {
	if s.cfg.Storage.DBPath != "" {
		db, err := storage.NewDatabase(storage.DatabaseConfig{Path: s.cfg.Storage.DBPath})
		if err != nil {
			return fmt.Errorf("failed to open events database: %w", err)
		}
		s.db = db
		s.eventsStore = storage.NewSynthesisEventsStore(db)

		if retention := s.cfg.Storage.EventRetention; retention > 0 {
			if _, err := s.eventsStore.DeleteBefore(context.Background(), time.Now().Add(-retention)); err != nil {
				logging.LogWarn("Failed to prune synthesis events", zap.Error(err))
			}
		}
	}

	ns := messaging.NewNATSService(s.cfg.NATS)
	if ns.Enabled() {
		if err := ns.Connect(); err != nil {
			logging.LogWarn("NATS unavailable, synthesis events will not be published", zap.Error(err))
		} else {
			s.natsService = ns
		}
	}

	return nil
}

// eventSink avoids handing a typed nil store to the recorder
func (s *Server) eventSink() events.Store {
	if s.eventsStore == nil {
		return nil
	}
	return s.eventsStore
}

func (s *Server) eventPublisher() events.Publisher {
	if s.natsService == nil {
		return nil
	}
	return s.natsService
}

// routes sets up HTTP routing
func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	tts := api.NewTTSHandler(s.orchestrator)
	s.router.Post("/tts", tts.Synthesize)
	s.router.Get("/voices", tts.Voices)
	s.router.Get("/health", tts.Health)

	if s.eventsStore != nil {
		s.router.Route("/api/synthesis-events", api.NewSynthesisEventsHandler(s.eventsStore).Routes)
	}
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Orchestrator returns the synthesis pipeline the server fronts
func (s *Server) Orchestrator() *synthesis.Orchestrator {
	return s.orchestrator
}

// Start serves gRPC health (when a port is configured) and blocks serving HTTP
func (s *Server) Start() error {
	if s.cfg.Server.GRPCPort > 0 {
		if _, err := s.health.Listen(s.cfg.Server.GRPCPort); err != nil {
			return err
		}
		go func() {
			if err := s.health.Serve(nil); err != nil {
				logging.LogError(err, "gRPC health server stopped")
			}
		}()
	}

	logging.LogInfo("loqa-tts starting",
		zap.String("addr", s.server.Addr),
		zap.Int("grpc_port", s.cfg.Server.GRPCPort),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server and releases the model and audit sinks
func (s *Server) Stop() error {
	logging.LogInfo("Shutting down loqa-tts")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs *multierror.Error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}
	s.health.Stop()

	s.Close()
	if err := s.runtime.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("model close failed: %w", err))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	logging.LogInfo("loqa-tts shut down successfully")
	return nil
}

// Close releases the audit sinks without touching listeners
func (s *Server) Close() {
	if s.natsService != nil {
		s.natsService.Close()
		s.natsService = nil
	}
	if s.db != nil {
		if err := s.db.Checkpoint(); err != nil {
			logging.LogWarn("Failed to checkpoint events database", zap.Error(err))
		}
		if err := s.db.Close(); err != nil {
			logging.LogWarn("Failed to close events database", zap.Error(err))
		}
		s.db = nil
	}
}

// requestLogger logs one line per HTTP request
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		if reqID != "" {
			w.Header().Set(middleware.RequestIDHeader, reqID)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		logging.LogInfo("HTTP request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
