package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	apphealth "campusconnect/backend/pkg/health"
	"campusconnect/backend/pkg/logger"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, checker *apphealth.Checker) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(checker, logger.Discard())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthFollowsChecker(t *testing.T) {
	req := require.New(t)

	var dbUp atomic.Bool
	checker := apphealth.NewChecker(logger.Discard(), time.Minute)
	checker.RegisterDatabaseCheck(func(context.Context) error {
		if dbUp.Load() {
			return nil
		}
		return errors.New("connection refused")
	})

	client := startServer(t, checker)
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, ServiceName))

	dbUp.Store(true)
	checker.RunChecks(context.Background())
	req.Equal(healthpb.HealthCheckResponse_SERVING, status(t, client, ServiceName))
	req.Equal(healthpb.HealthCheckResponse_SERVING, status(t, client, ""))

	dbUp.Store(false)
	checker.RunChecks(context.Background())
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, ServiceName))
}

func TestWithoutChecker(t *testing.T) {
	client := startServer(t, nil)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, ""))
}
