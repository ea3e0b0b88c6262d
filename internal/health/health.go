// Package health exposes the daemon's liveness over the standard gRPC
// health-checking protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// Service names reported by the daemon. The empty name is the overall status.
const (
	ServiceOverall   = ""
	ServiceSampling  = "focus.sampling"
	ServiceBluetooth = "focus.source.bluetooth"
	ServiceBridge    = "focus.source.bridge"
)

// Reporter tracks per-service serving status and serves it over gRPC.
type Reporter struct {
	srv    *health.Server
	logger *slog.Logger

	mu       sync.Mutex
	statuses map[string]bool
}

// NewReporter creates a Reporter with the overall service SERVING and the
// sampling and source services NOT_SERVING.
func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{
		srv:      health.NewServer(),
		logger:   logger,
		statuses: make(map[string]bool),
	}
	r.SetServing(ServiceOverall, true)
	for _, name := range []string{ServiceSampling, ServiceBluetooth, ServiceBridge} {
		r.SetServing(name, false)
	}
	return r
}

// SetServing records the status of one service.
func (r *Reporter) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}

	r.mu.Lock()
	prev, seen := r.statuses[service]
	r.statuses[service] = serving
	r.mu.Unlock()

	r.srv.SetServingStatus(service, status)
	if seen && prev != serving {
		r.logger.Debug("health status changed", "service", service, "serving", serving)
	}
}

// Serving reports the last recorded status of a service.
func (r *Reporter) Serving(service string) (serving, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	serving, known = r.statuses[service]
	return serving, known
}

// Serve listens on addr and blocks until ctx is done. An empty addr disables
// the endpoint and returns immediately.
func (r *Reporter) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		r.logger.Info("gRPC health endpoint disabled")
		return nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return r.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener until ctx is done.
func (r *Reporter) ServeListener(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer(grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
		MinTime:             10 * time.Second,
		PermitWithoutStream: true,
	}))
	healthpb.RegisterHealthServer(gs, r.srv)

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("gRPC health endpoint listening", "addr", lis.Addr().String())
		errCh <- gs.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		r.srv.Shutdown()
		gs.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC health: %w", err)
	}
}
