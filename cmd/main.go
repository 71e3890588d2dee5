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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/logging"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/loqalabs/loqa-tts/internal/server"
	"github.com/loqalabs/loqa-tts/internal/synthesis"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "loqa-tts",
		Short:        "Text-to-speech synthesis service",
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP synthesis API and gRPC health service",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		newSynthesizeCmd(),
		&cobra.Command{
			Use:   "voices",
			Short: "Print the voice catalog of the configured model",
			Args:  cobra.NoArgs,
			RunE:  runVoices,
		},
	)
	return root
}

// setup loads configuration and initializes structured logging
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := logging.InitializeWithConfig(logging.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		log.Printf("Failed to initialize logging: %v", err)
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logging.Close()

	srv, err := server.New(cfg)
	if err != nil {
		logging.LogError(err, "Failed to create server")
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.LogError(err, "Server failed")
			_ = srv.Stop()
			return err
		}
		return nil
	case <-ctx.Done():
	}

	if err := srv.Stop(); err != nil {
		logging.LogError(err, "Shutdown failed")
		return err
	}
	return <-errCh
}

type synthesizeOptions struct {
	text  string
	voice string
	out   string
}

func newSynthesizeCmd() *cobra.Command {
	opts := &synthesizeOptions{}

	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Synthesize text once with the configured model and write the audio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSynthesize(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.text, "text", "t", "", "text to synthesize")
	cmd.Flags().StringVarP(&opts.voice, "voice", "v", "", "voice identity; unknown voices fall back to the default")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output file, or - for stdout (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runSynthesize(ctx context.Context, opts *synthesizeOptions) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logging.Close()

	runtime := model.Load(cfg.Model)
	defer func() { _ = runtime.Close() }()

	store, err := artifact.NewStore(cfg.Synthesis.TempDir, cfg.Synthesis.AudioExt)
	if err != nil {
		return err
	}

	orchestrator := synthesis.New(
		runtime,
		voice.NewResolver(voice.Policy(cfg.Synthesis.VoiceFallback), cfg.Synthesis.DefaultVoice),
		store,
		synthesis.Options{
			MediaType:       cfg.Synthesis.MediaType,
			FallbackEnabled: cfg.Synthesis.FallbackEnabled,
		},
	)

	outcome, err := orchestrator.Handle(ctx, synthesis.Request{Text: opts.text, Voice: opts.voice})
	if err != nil {
		var synthErr *synthesis.Error
		if errors.As(err, &synthErr) {
			return fmt.Errorf("%s: %s", synthErr.Kind, synthErr.Detail)
		}
		return err
	}

	if opts.out == "-" {
		_, err = os.Stdout.Write(outcome.Audio)
		return err
	}

	if err := os.WriteFile(opts.out, outcome.Audio, 0o644); err != nil { //nolint:gosec // G306: audio output is meant to be shared
		return fmt.Errorf("failed to write %s: %w", opts.out, err)
	}

	logging.LogInfo("Audio written",
		zap.String("path", opts.out),
		zap.Int("bytes", len(outcome.Audio)),
		zap.String("voice", voice.Describe(outcome.Voice)),
		zap.Bool("used_fallback", outcome.UsedFallback),
	)
	return nil
}

func runVoices(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logging.Close()

	runtime := model.Load(cfg.Model)
	defer func() { _ = runtime.Close() }()

	m := runtime.Model()
	if m == nil {
		return fmt.Errorf("model is not loaded: %w", runtime.InitError())
	}

	catalog, err := m.Voices(cmd.Context())
	if err != nil {
		return fmt.Errorf("%w: %v", voice.ErrCatalogUnavailable, err)
	}

	out := cmd.OutOrStdout()
	if !catalog.MultiVoice() {
		fmt.Fprintf(out, "%s is a single-voice model\n", runtime.Info().ID)
		return nil
	}
	fmt.Fprintln(out, strings.Join(catalog.Voices(), "\n"))
	return nil
}
