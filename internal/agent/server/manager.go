package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/vandash/pkg/log"
)

// Server defines the common interface for all sub-servers (http, grpc).
type Server interface {
	Start(ctx context.Context) error
}

// Manager manages the lifecycle of all protocol servers.
type Manager struct {
	servers []Server
}

// NewManager returns a manager for the given servers. Nil entries are skipped,
// so disabled endpoints can be passed through unconditionally.
func NewManager(servers ...Server) *Manager {
	m := &Manager{}
	for _, s := range servers {
		if s != nil {
			m.servers = append(m.servers, s)
		}
	}
	return m
}

// Start launches all servers in parallel and waits for termination. The first
// failure stops the others.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
