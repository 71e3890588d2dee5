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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-tts/internal/api"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/events"
	"github.com/loqalabs/loqa-tts/internal/messaging"
)

const (
	defaultServerURL = "http://localhost:8000"
	defaultNATSURL   = "nats://localhost:4222"
)

// TTSCLI talks to a running loqa-tts service
type TTSCLI struct {
	serverURL string
	format    string
	client    *http.Client
	out       io.Writer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &TTSCLI{client: &http.Client{Timeout: 5 * time.Minute}, out: os.Stdout}

	root := &cobra.Command{
		Use:          "tts-cli",
		Short:        "Client for a running loqa-tts service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.serverURL, "server", defaultServerURL, "URL of the loqa-tts service")
	root.PersistentFlags().StringVar(&c.format, "format", "table", "Output format: table, json")

	var voice, out string
	speak := &cobra.Command{
		Use:   "speak <text>",
		Short: "Synthesize text and save the audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.speak(args[0], voice, out)
		},
	}
	speak.Flags().StringVar(&voice, "voice", "", "voice identity")
	speak.Flags().StringVarP(&out, "out", "o", "speech.wav", "output file")

	var (
		page      int
		pageSize  int
		errorKind string
		failed    bool
	)
	list := &cobra.Command{
		Use:   "events",
		Short: "List recorded synthesis events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			query.Set("page", strconv.Itoa(page))
			query.Set("page_size", strconv.Itoa(pageSize))
			if errorKind != "" {
				query.Set("error_kind", errorKind)
			}
			if cmd.Flags().Changed("failed") {
				query.Set("success", strconv.FormatBool(!failed))
			}
			return c.listEvents(query)
		},
	}
	list.Flags().IntVar(&page, "page", 1, "page number")
	list.Flags().IntVar(&pageSize, "page-size", 20, "events per page")
	list.Flags().StringVar(&errorKind, "error-kind", "", "only events with this error kind")
	list.Flags().BoolVar(&failed, "failed", false, "only failed (true) or successful (false) events")

	var natsURL, subject string
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Stream synthesis events published on NATS",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.watch(natsURL, subject)
		},
	}
	watch.Flags().StringVar(&natsURL, "nats", defaultNATSURL, "NATS server URL")
	watch.Flags().StringVar(&subject, "subject", "loqa.tts.events", "event subject prefix")

	root.AddCommand(
		speak,
		&cobra.Command{
			Use:   "voices",
			Short: "List the voices of the loaded model",
			Args:  cobra.NoArgs,
			RunE:  func(_ *cobra.Command, _ []string) error { return c.voices() },
		},
		&cobra.Command{
			Use:   "health",
			Short: "Show service health",
			Args:  cobra.NoArgs,
			RunE:  func(_ *cobra.Command, _ []string) error { return c.health() },
		},
		list,
		&cobra.Command{
			Use:   "event <uuid>",
			Short: "Show one synthesis event",
			Args:  cobra.ExactArgs(1),
			RunE:  func(_ *cobra.Command, args []string) error { return c.getEvent(args[0]) },
		},
		watch,
	)
	return root
}

func (c *TTSCLI) speak(text, voice, out string) error {
	payload, err := json.Marshal(api.TTSRequest{Text: text, Voice: voice})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.client.Post(c.serverURL+"/tts", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("service returned status %d", resp.StatusCode)
		}
		return fmt.Errorf("%s: %s", errResp.Kind, errResp.Detail)
	}

	f, err := os.Create(out) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	voiceUsed := resp.Header.Get(api.HeaderVoice)
	if voiceUsed == "" {
		voiceUsed = "(default)"
	}
	fmt.Fprintf(c.out, "Wrote %d bytes of %s to %s (voice %s, fallback %s)\n",
		n, resp.Header.Get("Content-Type"), out, voiceUsed, resp.Header.Get(api.HeaderFallback))
	return nil
}

func (c *TTSCLI) voices() error {
	var result api.VoicesResponse
	if err := c.getJSON("/voices", &result); err != nil {
		return err
	}

	if c.format == "json" {
		return c.printJSON(result)
	}

	if !result.MultiVoice {
		fmt.Fprintln(c.out, "Single-voice model")
		return nil
	}
	for _, v := range result.Voices {
		fmt.Fprintln(c.out, v)
	}
	return nil
}

func (c *TTSCLI) health() error {
	var result api.HealthResponse
	if err := c.getJSON("/health", &result); err != nil {
		return err
	}

	if c.format == "json" {
		return c.printJSON(result)
	}

	fmt.Fprintf(c.out, "Status:  %s\n", result.Status)
	fmt.Fprintf(c.out, "Ready:   %s\n", formatBool(result.Ready))
	fmt.Fprintf(c.out, "Model:   %s\n", result.Model)
	fmt.Fprintf(c.out, "Backend: %s\n", result.Backend)
	fmt.Fprintf(c.out, "Device:  %s\n", result.Device)
	if result.Error != "" {
		fmt.Fprintf(c.out, "Error:   %s\n", result.Error)
	}
	return nil
}

func (c *TTSCLI) listEvents(query url.Values) error {
	var result api.ListSynthesisEventsResponse
	if err := c.getJSON("/api/synthesis-events?"+query.Encode(), &result); err != nil {
		return err
	}

	if c.format == "json" {
		return c.printJSON(result.Events)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tTIME\tVOICE\tFALLBACK\tBYTES\tMS\tOK\tERROR")
	fmt.Fprintln(w, "----\t----\t-----\t--------\t-----\t--\t--\t-----")

	for _, event := range result.Events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			event.UUID,
			event.Timestamp.Local().Format("2006-01-02 15:04:05"),
			orDash(event.ResolvedVoice),
			formatBool(event.UsedFallback),
			event.AudioBytes,
			event.ProcessingTime,
			formatBool(event.Success),
			orDash(event.ErrorKind),
		)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("error flushing output: %w", err)
	}
	fmt.Fprintf(c.out, "\nPage %d of %d (%d events)\n", result.Page, result.TotalPages, result.Total)
	return nil
}

func (c *TTSCLI) getEvent(id string) error {
	var event events.SynthesisEvent
	if err := c.getJSON("/api/synthesis-events/"+url.PathEscape(id), &event); err != nil {
		return err
	}

	if c.format == "json" {
		return c.printJSON(event)
	}

	fmt.Fprintf(c.out, "Synthesis Event:\n")
	fmt.Fprintf(c.out, "  UUID:            %s\n", event.UUID)
	fmt.Fprintf(c.out, "  Request ID:      %s\n", event.RequestID)
	fmt.Fprintf(c.out, "  Time:            %s\n", event.Timestamp.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.out, "  Text Length:     %d\n", event.TextLength)
	fmt.Fprintf(c.out, "  Requested Voice: %s\n", orDash(event.RequestedVoice))
	fmt.Fprintf(c.out, "  Resolved Voice:  %s\n", orDash(event.ResolvedVoice))
	fmt.Fprintf(c.out, "  Used Fallback:   %s\n", formatBool(event.UsedFallback))
	fmt.Fprintf(c.out, "  Audio Bytes:     %d\n", event.AudioBytes)
	fmt.Fprintf(c.out, "  Processing Time: %dms\n", event.ProcessingTime)
	fmt.Fprintf(c.out, "  Success:         %s\n", formatBool(event.Success))
	if !event.Success {
		fmt.Fprintf(c.out, "  Error Kind:      %s\n", event.ErrorKind)
		fmt.Fprintf(c.out, "  Error:           %s\n", event.ErrorMessage)
	}
	return nil
}

func (c *TTSCLI) watch(natsURL, subject string) error {
	ns := messaging.NewNATSService(config.NATSConfig{
		URL:           natsURL,
		Subject:       subject,
		MaxReconnect:  -1,
		ReconnectWait: 2 * time.Second,
	})
	if err := ns.Connect(); err != nil {
		return err
	}
	defer ns.Close()

	sub, err := ns.SubscribeToSynthesisEvents(func(event *events.SynthesisEvent) {
		if c.format == "json" {
			_ = c.printJSON(event)
			return
		}
		fmt.Fprintln(c.out, event.String())
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	fmt.Fprintf(os.Stderr, "Watching %s.> (Ctrl-C to stop)\n", subject)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

func (c *TTSCLI) getJSON(path string, into any) error {
	resp, err := c.client.Get(c.serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *TTSCLI) printJSON(v any) error {
	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatBool(b bool) string {
	if b {
		return "✓"
	}
	return "✗"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
