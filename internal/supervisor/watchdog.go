package supervisor

import (
	"context"
)

// watch is the heartbeat watchdog of a single subsystem. Every tick it
// checks whether the subsystem has been silent longer than its current
// backoff and, if so, records a missed heartbeat.
func (s *Supervisor) watch(ctx context.Context, name string) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.checkHeartbeat(name)
		}
	}
}

func (s *Supervisor) checkHeartbeat(name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || !s.running {
		s.mu.Unlock()
		return
	}

	if e.rec.State != StateActive && e.rec.State != StateWaiting {
		s.mu.Unlock()
		return
	}

	if s.clock.Since(e.rec.LastUpdate) <= s.backoff(e.attempts) {
		s.mu.Unlock()
		return
	}

	// Decided and applied under the same lock, so a heartbeat arriving in
	// between cannot be overwritten by a stale miss.
	eff := s.reportLocked(e, TransientFailure, ErrHeartbeatMissed)
	s.mu.Unlock()

	s.finish(eff)
}
