package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"serviceelectro.org/internal/obs"
)

// GRPCHealth serves the standard grpc.health.v1 protocol, driven by the same
// readiness probe as /readyz. The empty service name and serviceName report
// the same status.
type GRPCHealth struct {
	readiness readinessChecker
	server    *health.Server
	log       zerolog.Logger
}

// NewGRPCHealth creates the health service. It reports NOT_SERVING until the
// first Refresh.
func NewGRPCHealth(r readinessChecker, log zerolog.Logger) *GRPCHealth {
	if r == nil {
		r = ReadyProbe{}
	}
	h := &GRPCHealth{readiness: r, server: health.NewServer(), log: log}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Refresh runs the readiness probe once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	if err := h.readiness.Check(ctx); err != nil {
		h.log.Warn().Err(err).Msg("readiness check failed")
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes every interval until ctx is done, then marks the service as
// shutting down.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Register installs the health service on srv.
func (h *GRPCHealth) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}

// NewGRPCServer builds a gRPC server exposing the health service.
func NewGRPCServer(h *GRPCHealth, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	h.Register(srv)
	return srv
}
