// Package grpc serves the standard gRPC health protocol for carebook so
// orchestrators can health-check it like any other gRPC backend.
package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall ("")
// status.
const ServiceName = "carebook.Booking"

const (
	defaultRequestTimeout = 10 * time.Second
	defaultCheckInterval  = 5 * time.Second
)

// NewServer builds a gRPC server with the health service and reflection
// registered. Every service starts NOT_SERVING until a watcher reports in.
func NewServer(requestTimeout time.Duration) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(requestTimeoutInterceptor(requestTimeout)),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	return s, hs
}

func requestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

// ReadinessWatcher mirrors a readiness check into the health server.
type ReadinessWatcher struct {
	health   *health.Server
	check    func(ctx context.Context) error
	interval time.Duration
	log      *slog.Logger
}

func NewReadinessWatcher(hs *health.Server, check func(ctx context.Context) error, interval time.Duration, log *slog.Logger) *ReadinessWatcher {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &ReadinessWatcher{
		health:   hs,
		check:    check,
		interval: interval,
		log:      log.With(slog.String("component", "grpc.health")),
	}
}

// Run checks once immediately and then every interval until ctx is done, at
// which point every service is marked NOT_SERVING.
func (w *ReadinessWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := w.refresh(ctx)
		if status != last {
			w.log.Info("serving status changed", slog.String("status", status.String()))
			last = status
		}

		select {
		case <-ctx.Done():
			w.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (w *ReadinessWatcher) refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if w.check != nil {
		checkCtx, cancel := context.WithTimeout(ctx, w.interval)
		err := w.check(checkCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warn("readiness check failed", slog.Any("err", err))
			}
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	w.health.SetServingStatus("", status)
	w.health.SetServingStatus(ServiceName, status)
	return status
}
