package admin_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/massgravity/internal/admin"
	"github.com/cory-johannsen/massgravity/internal/config"
)

func startServer(t *testing.T, s *admin.Server) healthpb.HealthClient {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func status(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_ReportsChecks(t *testing.T) {
	var dbDown atomic.Bool
	s := admin.NewServer(config.AdminConfig{}, 10*time.Millisecond, time.Second, zaptest.NewLogger(t))
	s.AddCheck("coordinator", func(context.Context) error { return nil })
	s.AddCheck("database", func(context.Context) error {
		if dbDown.Load() {
			return errors.New("connection refused")
		}
		return nil
	})
	client := startServer(t, s)

	require.Eventually(t, func() bool {
		return status(t, client, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client, "database"))

	dbDown.Store(true)
	require.Eventually(t, func() bool {
		return status(t, client, "") == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, "database"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client, "coordinator"))
}

func TestServer_RefreshReturnsFailing(t *testing.T) {
	s := admin.NewServer(config.AdminConfig{}, time.Hour, 20*time.Millisecond, zaptest.NewLogger(t))
	s.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.AddCheck("fine", func(context.Context) error { return nil })
	s.AddCheck("broken", func(context.Context) error { return errors.New("boom") })

	assert.Equal(t, []string{"broken", "slow"}, s.Refresh(context.Background()))
}

func TestServer_UnknownService(t *testing.T) {
	s := admin.NewServer(config.AdminConfig{}, time.Hour, time.Second, zaptest.NewLogger(t))
	client := startServer(t, s)
	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	assert.Error(t, err)
}

func TestNewServer_PanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() {
		admin.NewServer(config.AdminConfig{}, 0, time.Second, zaptest.NewLogger(t))
	})
}
