package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/utils/clock"
)

// Pinger is satisfied by *repository.DB.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Health mirrors database reachability into the gRPC health service, both for the
// server as a whole ("") and for JobAdmin.
type Health struct {
	*health.Server
	db      Pinger
	timeout time.Duration
	clock   clock.WithTicker
	logger  *slog.Logger
}

func NewHealth(db Pinger, timeout time.Duration, logger *slog.Logger) *Health {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Health{Server: health.NewServer(), db: db, timeout: timeout, clock: clock.RealClock{}, logger: logger}
}

// Probe pings the database once and updates the serving status.
func (h *Health) Probe(ctx context.Context) error {
	st := healthpb.HealthCheckResponse_SERVING
	err := h.db.HealthCheck(ctx, h.timeout)
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Error("database ping failed", "error", err)
	} else {
		h.logger.Debug("database ping successful")
	}
	h.SetServingStatus("", st)
	h.SetServingStatus(ServiceName, st)
	return err
}

// Watch re-checks every interval until ctx ends, then marks everything not serving.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := h.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-t.C():
			_ = h.Probe(ctx)
		}
	}
}
