package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ReadinessCheck reports whether dependencies (the database) are reachable.
type ReadinessCheck func(ctx context.Context) error

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readyz(check ReadinessCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				logger.Warn("readiness check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// GRPCHealth serves the standard grpc.health.v1 service for orchestrators
// that probe over gRPC. Status follows the readiness check.
type GRPCHealth struct {
	srv      *grpc.Server
	hs       *health.Server
	check    ReadinessCheck
	interval time.Duration
	logger   *slog.Logger
}

func NewGRPCHealth(check ReadinessCheck, interval time.Duration, logger *slog.Logger) *GRPCHealth {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCHealth{srv: srv, hs: hs, check: check, interval: interval, logger: logger}
}

// Refresh runs the readiness check once and publishes the result.
func (g *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if g.check != nil {
		if err := g.check(ctx); err != nil {
			g.logger.Warn("grpc health: not serving", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	g.hs.SetServingStatus("", status)
	return status
}

// Serve blocks until ctx is done or the listener fails.
func (g *GRPCHealth) Serve(ctx context.Context, lis net.Listener) error {
	g.Refresh(ctx)
	go func() {
		t := time.NewTicker(g.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				g.hs.Shutdown()
				g.srv.GracefulStop()
				return
			case <-t.C:
				g.Refresh(ctx)
			}
		}
	}()

	g.logger.Info("grpc health serving", "addr", lis.Addr().String())
	if err := g.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
