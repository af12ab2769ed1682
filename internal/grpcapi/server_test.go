package grpcapi

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthFollowsChecker(t *testing.T) {
	var failing atomic.Bool
	srv := NewServer(func() error {
		if failing.Load() {
			return errors.New("db down")
		}
		return nil
	}, 20*time.Millisecond)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx, lis) }()
	t.Cleanup(srv.GracefulStop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	require.Eventually(t, func() bool { return status() == healthpb.HealthCheckResponse_SERVING },
		time.Second, 10*time.Millisecond)

	failing.Store(true)
	assert.Eventually(t, func() bool { return status() == healthpb.HealthCheckResponse_NOT_SERVING },
		time.Second, 10*time.Millisecond)
}

func TestCheckHealth(t *testing.T) {
	srv := NewServer(nil, time.Minute)
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx, lis) }()
	t.Cleanup(srv.GracefulStop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) })

	require.Eventually(t, func() bool {
		status, err := CheckHealth(context.Background(), "passthrough:///bufnet", ServiceName, dialer)
		return err == nil && status == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)

	_, err := CheckHealth(context.Background(), "passthrough:///bufnet", "no.such.Service", dialer)
	assert.Error(t, err)
}
