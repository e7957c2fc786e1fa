package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth serves the standard gRPC health protocol for orchestrators
// that probe over gRPC instead of HTTP
type GRPCHealth struct {
	Server *grpc.Server
	health *health.Server
}

// NewGRPCHealth registers a health service reporting NOT_SERVING until
// SetServing is called
func NewGRPCHealth(opts ...grpc.ServerOption) *GRPCHealth {
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCHealth{Server: srv, health: hs}
}

// SetServing flips both the overall and the named service status
func (g *GRPCHealth) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(ServiceName, status)
	g.health.SetServingStatus("", status)
}

// Watch keeps the serving status in line with the readiness checks until
// ctx is done
func (g *GRPCHealth) Watch(ctx context.Context, checker *HealthChecker, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := true
	for {
		_, ready := checker.Readiness(ctx)
		if ctx.Err() != nil {
			return
		}
		g.SetServing(ready)
		if ready != last {
			logger.Warn().Bool("ready", ready).Msg("gRPC health status changed")
			last = ready
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown marks the service as not serving and stops the server gracefully
func (g *GRPCHealth) Shutdown() {
	g.health.Shutdown()
	g.Server.GracefulStop()
}
