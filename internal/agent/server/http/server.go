package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/vandash/internal/logbuffer"
	"github.com/autopeer-io/vandash/internal/pkg/metrics"
	"github.com/autopeer-io/vandash/internal/probe"
	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/internal/telemetry"
	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/options"
)

// Supervisor is the health API the server exposes.
type Supervisor interface {
	Snapshot() supervisor.Snapshot
	Reset(name string) error
	Report(name string, outcome supervisor.Outcome, cause error)
	Fail(name, reason string) error
}

// Simulation controls the telemetry pipeline.
type Simulation interface {
	ToggleSimulation() bool
	ForcedSimulation() bool
	Mode() telemetry.Mode
}

// SystemStats provides the host summary.
type SystemStats interface {
	Stats() probe.Stats
}

// Deps are the components behind the API.
type Deps struct {
	Supervisor Supervisor
	Stream     *telemetry.Broadcaster
	Simulation Simulation
	Logs       *logbuffer.Buffer
	System     SystemStats

	// Mode is reported by /api/status. Fault injection is only served in maintenance mode.
	Mode string
	// HeartbeatInterval is the keepalive period of SSE and WebSocket streams.
	HeartbeatInterval time.Duration

	Logger log.Logger
}

// ModeMaintenance enables the test endpoints.
const ModeMaintenance = "maintenance"

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	deps    Deps
	logger  log.Logger
}

func NewServer(opts *options.HttpOptions, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.Std()
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = 15 * time.Second
	}
	if deps.Mode == "" {
		deps.Mode = "operational"
	}

	s := &Server{
		options: opts,
		deps:    deps,
		logger:  deps.Logger.WithName("backend"),
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.cors)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/health", s.bounded(s.getHealth)).Methods(http.MethodGet)
	api.Handle("/status", s.bounded(s.getStatus)).Methods(http.MethodGet)
	api.Handle("/system/reset/{subsystem}", s.bounded(s.resetSubsystem)).Methods(http.MethodPost)
	api.Handle("/system/simulation/toggle", s.bounded(s.toggleSimulation)).Methods(http.MethodPost)
	api.Handle("/subsystems/{subsystem}/report", s.bounded(s.reportSubsystem)).Methods(http.MethodPost)
	api.Handle("/logs/sources", s.bounded(s.logSources)).Methods(http.MethodGet)
	api.Handle("/logs/tail", s.bounded(s.tailLogs)).Methods(http.MethodGet)
	api.Handle("/obd/latest", s.bounded(s.latestReading)).Methods(http.MethodGet)
	api.HandleFunc("/obd/stream", s.streamSSE).Methods(http.MethodGet)
	api.HandleFunc("/obd/ws", s.streamWebSocket).Methods(http.MethodGet)
	api.Handle("/test/fail", s.bounded(s.injectFailure)).Methods(http.MethodGet, http.MethodPost)

	return r
}

// bounded applies the request timeout. Streaming routes are not bounded.
func (s *Server) bounded(h http.HandlerFunc) http.Handler {
	if s.options.Timeout <= 0 {
		return h
	}
	return http.TimeoutHandler(h, s.options.Timeout, `{"error":{"code":"INTERNAL","message":"request timed out"}}`)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.options.AllowedOrigins != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.options.AllowedOrigins)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context) error {
	network := s.options.Network
	if network == "" {
		network = "tcp"
	}
	lis, err := net.Listen(network, s.options.Addr)
	if err != nil {
		return err
	}

	s.logger.Info("Starting HTTP Server", "addr", s.options.Addr)

	// Requests inherit ctx, so open streams end when the agent stops.
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP Server")
		return s.server.Shutdown(shutdownCtx)
	}
}
