package app

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	httpserver "github.com/autopeer-io/vandash/internal/agent/server/http"
)

func run(t *testing.T, o *Options, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCommand(o)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func agentAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"DEGRADED","timestamp":1700000000.5,"subsystems":{
			"obd":{"state":"WAITING","message":"Stream recovering","last_update":1700000000,"restart_count":2,"last_error":null},
			"camera_front":{"state":"DISABLED","message":null,"last_update":1700000000,"restart_count":0,"last_error":null}}}`))
	})
	mux.HandleFunc("POST /api/system/reset/{name}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "obd" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"unknown subsystem \"` + r.PathValue("name") + `\""}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"reset_triggered","subsystem":"obd"}`))
	})
	mux.HandleFunc("POST /api/system/simulation/toggle", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"active":true}`))
	})
	mux.HandleFunc("GET /api/logs/sources", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["BACKEND","OBD"]`))
	})
	mux.HandleFunc("GET /api/logs/tail", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "OBD", q.Get("source"))
		assert.Equal(t, "WARN", q.Get("level"))
		assert.Equal(t, "5", q.Get("lines"))
		_, _ = w.Write([]byte(`[{"timestamp":"2023-11-14T22:13:20Z","source":"OBD","level":"WARN","message":"Live feed lost"}]`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthTable(t *testing.T) {
	srv := agentAPI(t)
	out, err := run(t, &Options{}, "--server", srv.URL, "health")
	require.NoError(t, err)

	assert.Contains(t, out, "Status: DEGRADED")
	assert.Contains(t, out, "SUBSYSTEM")
	assert.Contains(t, out, "Stream recovering")
	assert.Less(t, bytes.Index([]byte(out), []byte("camera_front")), bytes.Index([]byte(out), []byte("obd")))
}

func TestReset(t *testing.T) {
	srv := agentAPI(t)

	out, err := run(t, &Options{}, "-s", srv.URL, "reset", "obd")
	require.NoError(t, err)
	assert.Equal(t, "Reset triggered for obd\n", out)

	_, err = run(t, &Options{}, "-s", srv.URL, "reset", "radar")
	var apiErr *httpserver.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, httpserver.CodeNotFound, apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.EqualError(t, err, `NOT_FOUND: unknown subsystem "radar"`)
}

func TestSimulationToggle(t *testing.T) {
	srv := agentAPI(t)
	out, err := run(t, &Options{}, "-s", srv.URL, "simulation", "toggle")
	require.NoError(t, err)
	assert.Equal(t, "Simulation on\n", out)
}

func TestLogs(t *testing.T) {
	srv := agentAPI(t)

	out, err := run(t, &Options{}, "-s", srv.URL, "logs", "sources")
	require.NoError(t, err)
	assert.Equal(t, "BACKEND\nOBD\n", out)

	out, err = run(t, &Options{}, "-s", srv.URL, "logs", "tail", "--source", "OBD", "--level", "WARN", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Live feed lost")
}

func TestServerFromEnvironment(t *testing.T) {
	srv := agentAPI(t)
	t.Setenv("VANDASH_SERVER", srv.URL)

	out, err := run(t, &Options{}, "logs", "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "OBD")
}

func TestUnreachableAgent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := run(t, &Options{}, "-s", addr, "health")
	assert.ErrorContains(t, err, "agent unreachable")
}

func TestCheck(t *testing.T) {
	hs := health.NewServer()
	hs.SetServingStatus("obd", healthpb.HealthCheckResponse_NOT_SERVING)

	lis := bufconn.Listen(1 << 16)
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	o := &Options{
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		},
	}

	out, err := run(t, o, "--grpc-addr", "passthrough:///bufnet", "check")
	require.NoError(t, err)
	assert.Equal(t, "vehicle: SERVING\n", out)

	out, err = run(t, o, "--grpc-addr", "passthrough:///bufnet", "check", "obd")
	require.NoError(t, err)
	assert.Equal(t, "obd: NOT_SERVING\n", out)
}
