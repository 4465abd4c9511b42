package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/options"
)

// Server serves the standard gRPC health protocol. The empty service name
// follows the aggregate status, every subsystem name follows its record.
type Server struct {
	server  *grpc.Server
	health  *health.Server
	options *options.GrpcOptions
	logger  log.Logger
}

func NewServer(opts *options.GrpcOptions, snapshot supervisor.Snapshot, logger log.Logger) *Server {
	if logger == nil {
		logger = log.Std()
	}

	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	srv := &Server{
		server:  s,
		health:  hs,
		options: opts,
		logger:  logger.WithName("backend"),
	}
	srv.Apply(snapshot)
	return srv
}

// Apply sets every serving status from a snapshot.
func (s *Server) Apply(snap supervisor.Snapshot) {
	for _, rec := range snap.Subsystems {
		s.health.SetServingStatus(rec.Name, servingStatus(rec.State))
	}
	s.health.SetServingStatus("", aggregateStatus(snap.Status))
}

// OnTransition updates the serving status of the subsystem that changed.
// status is the aggregate after the change.
func (s *Server) OnTransition(t supervisor.Transition, status supervisor.Status) {
	s.health.SetServingStatus(t.Name, servingStatus(t.To))
	s.health.SetServingStatus("", aggregateStatus(status))
}

func servingStatus(st supervisor.State) healthpb.HealthCheckResponse_ServingStatus {
	switch st {
	case supervisor.StateActive:
		return healthpb.HealthCheckResponse_SERVING
	case supervisor.StateDisabled:
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// aggregateStatus serves while the system is usable, degraded included.
func aggregateStatus(st supervisor.Status) healthpb.HealthCheckResponse_ServingStatus {
	if st == supervisor.StatusFaulty {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
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
	return s.Serve(ctx, lis)
}

// Serve runs on an existing listener until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("Starting gRPC Server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		return nil
	}
}
