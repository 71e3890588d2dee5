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

package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/events"
	"github.com/loqalabs/loqa-tts/internal/logging"
)

// ErrNotConnected is returned when publishing before Connect succeeded
var ErrNotConnected = errors.New("NATS connection not established")

// NATSService publishes synthesis events for the rest of the Loqa system
type NATSService struct {
	mu   sync.RWMutex
	conn *nats.Conn
	cfg  config.NATSConfig
}

// NewNATSService creates a service for cfg. Nothing connects until Connect.
func NewNATSService(cfg config.NATSConfig) *NATSService {
	if cfg.Subject == "" {
		cfg.Subject = "loqa.tts.events"
	}
	return &NATSService{cfg: cfg}
}

// Enabled reports whether a NATS URL is configured
func (ns *NATSService) Enabled() bool {
	return ns.cfg.URL != ""
}

// Subject returns the subject prefix events are published under
func (ns *NATSService) Subject() string {
	return ns.cfg.Subject
}

// Connect establishes the connection to the NATS server
func (ns *NATSService) Connect() error {
	if !ns.Enabled() {
		return fmt.Errorf("NATS URL not configured")
	}

	logging.LogNATSEvent(ns.cfg.Subject, "connecting", zap.String("url", ns.cfg.URL))

	opts := []nats.Option{
		nats.Name("loqa-tts"),
		nats.ReconnectWait(ns.cfg.ReconnectWait),
		nats.MaxReconnects(ns.cfg.MaxReconnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.LogWarn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(ns.cfg.Subject, "reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logging.LogNATSEvent(ns.cfg.Subject, "closed")
		}),
	}

	conn, err := nats.Connect(ns.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.mu.Lock()
	ns.conn = conn
	ns.mu.Unlock()

	logging.LogNATSEvent(ns.cfg.Subject, "connected", zap.String("url", conn.ConnectedUrl()))
	return nil
}

// Event subject suffixes
const (
	SuffixCompleted = "completed"
	SuffixFailed    = "failed"
)

// SubjectFor returns the subject an event is published on, e.g.
// loqa.tts.events.completed
func (ns *NATSService) SubjectFor(event *events.SynthesisEvent) string {
	if event.Success {
		return ns.cfg.Subject + "." + SuffixCompleted
	}
	return ns.cfg.Subject + "." + SuffixFailed
}

// PublishSynthesisEvent publishes one audit event as JSON
func (ns *NATSService) PublishSynthesisEvent(event *events.SynthesisEvent) error {
	conn := ns.connection()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal synthesis event: %w", err)
	}

	subject := ns.SubjectFor(event)
	if err := conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	logging.LogNATSEvent(subject, "published",
		zap.String("uuid", event.UUID),
		zap.Bool("success", event.Success),
	)
	return nil
}

// SubscribeToSynthesisEvents delivers every completed and failed event
func (ns *NATSService) SubscribeToSynthesisEvents(handler func(*events.SynthesisEvent)) (*nats.Subscription, error) {
	conn := ns.connection()
	if conn == nil {
		return nil, ErrNotConnected
	}

	return conn.Subscribe(ns.cfg.Subject+".>", func(msg *nats.Msg) {
		event, err := DecodeSynthesisEvent(msg.Data)
		if err != nil {
			logging.LogError(err, "Dropping malformed synthesis event", zap.String("subject", msg.Subject))
			return
		}
		handler(event)
	})
}

// DecodeSynthesisEvent parses a published event payload
func DecodeSynthesisEvent(data []byte) (*events.SynthesisEvent, error) {
	var event events.SynthesisEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal synthesis event: %w", err)
	}
	return &event, nil
}

// Close drains and closes the NATS connection
func (ns *NATSService) Close() {
	ns.mu.Lock()
	conn := ns.conn
	ns.conn = nil
	ns.mu.Unlock()

	if conn != nil {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
}

// IsConnected returns true if connected to NATS
func (ns *NATSService) IsConnected() bool {
	conn := ns.connection()
	return conn != nil && conn.IsConnected()
}

// GetStats returns connection statistics
func (ns *NATSService) GetStats() nats.Statistics {
	if conn := ns.connection(); conn != nil {
		return conn.Stats()
	}
	return nats.Statistics{}
}

func (ns *NATSService) connection() *nats.Conn {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.conn
}
