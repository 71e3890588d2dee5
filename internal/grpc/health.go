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

package grpc

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/loqalabs/loqa-tts/internal/logging"
)

// ServiceName is the health-check name of the synthesis service. The empty
// name reports the same status for clients that check the whole server.
const ServiceName = "loqa.tts.Synthesis"

// Readiness reports whether synthesis requests can succeed
type Readiness interface {
	Ready() bool
}

// HealthServer exposes grpc.health.v1 for the synthesis service
type HealthServer struct {
	server    *grpc.Server
	health    *health.Server
	readiness Readiness

	mu       sync.Mutex
	listener net.Listener
}

// NewHealthServer creates a health server reflecting the model readiness
func NewHealthServer(readiness Readiness) *HealthServer {
	hs := &HealthServer{
		server:    grpc.NewServer(),
		health:    health.NewServer(),
		readiness: readiness,
	}
	healthpb.RegisterHealthServer(hs.server, hs.health)
	hs.Refresh()
	return hs
}

// Refresh publishes the current readiness to health clients
func (hs *HealthServer) Refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if hs.readiness != nil && hs.readiness.Ready() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(ServiceName, status)
}

// Listen binds the TCP port; port 0 picks a free one
func (hs *HealthServer) Listen(port int) (net.Addr, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on gRPC port %d: %w", port, err)
	}

	hs.mu.Lock()
	hs.listener = lis
	hs.mu.Unlock()
	return lis.Addr(), nil
}

// Serve blocks serving on lis, or on the listener bound by Listen when lis is nil
func (hs *HealthServer) Serve(lis net.Listener) error {
	if lis == nil {
		hs.mu.Lock()
		lis = hs.listener
		hs.mu.Unlock()
	}
	if lis == nil {
		return fmt.Errorf("gRPC health server has no listener")
	}

	logging.LogInfo("gRPC health server listening", zap.String("addr", lis.Addr().String()))
	if err := hs.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// Stop marks every service as not serving and shuts the server down
func (hs *HealthServer) Stop() {
	hs.health.Shutdown()
	hs.server.GracefulStop()
}
