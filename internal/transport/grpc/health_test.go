package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func dialHealth(t *testing.T) (healthpb.HealthClient, *ReadinessWatcher, *atomic.Bool) {
	t.Helper()

	srv, hs := NewServer(time.Second)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ready := &atomic.Bool{}
	watcher := NewReadinessWatcher(hs, func(ctx context.Context) error {
		if !ready.Load() {
			return errors.New("db down")
		}
		return nil
	}, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return healthpb.NewHealthClient(conn), watcher, ready
}

func servingStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_NotServingUntilReady(t *testing.T) {
	client, _, _ := dialHealth(t)

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, client, ""))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, client, ServiceName))
}

func TestHealth_FollowsReadiness(t *testing.T) {
	client, watcher, ready := dialHealth(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	ready.Store(true)
	require.Eventually(t, func() bool {
		return servingStatus(t, client, ServiceName) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	ready.Store(false)
	require.Eventually(t, func() bool {
		return servingStatus(t, client, "") == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	ready.Store(true)
	require.Eventually(t, func() bool {
		return servingStatus(t, client, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, client, ""))
}

func TestRequestTimeoutInterceptor(t *testing.T) {
	interceptor := requestTimeoutInterceptor(50 * time.Millisecond)

	var hadDeadline bool
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		_, hadDeadline = ctx.Deadline()
		return nil, nil
	})
	require.NoError(t, err)
	require.True(t, hadDeadline)
}
