package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/options"
)

func TestHealthFollowsSupervisor(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	sup := supervisor.New(supervisor.Config{Clock: clk, Logger: log.NewNopLogger()})
	require.NoError(t, sup.Register(supervisor.Subsystem{Name: "obd", Enabled: true}))
	require.NoError(t, sup.Register(supervisor.Subsystem{Name: "camera_front"}))

	srv := NewServer(options.NewGrpcOptions(), sup.Snapshot(), log.NewNopLogger())
	sup.OnTransition(func(tr supervisor.Transition) { srv.OnTransition(tr, sup.Snapshot().Status) })

	lis := bufconn.Listen(1 << 16)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(t.Context(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("obd"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVICE_UNKNOWN, check("camera_front"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))

	sup.Report("obd", supervisor.Success, nil)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("obd"))

	require.NoError(t, sup.Fail("obd", "adapter unplugged"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("obd"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))

	cancel()
	require.NoError(t, <-done)
}
