package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/vandash/internal/pkg/metrics"
	"github.com/autopeer-io/vandash/pkg/log"
)

// Config tunes the supervisor. Zero durations fall back to the defaults.
type Config struct {
	// MaxRetries is the automatic restart budget of a failure episode.
	MaxRetries int
	// GracePeriod is the silence tolerated before a heartbeat is missed.
	GracePeriod time.Duration
	// Backoff is added to the grace period for every attempt already made.
	Backoff time.Duration
	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration
	// CheckInterval is the watchdog tick.
	CheckInterval time.Duration

	Clock  clock.WithTicker
	Logger log.Logger
}

func (c *Config) complete() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.MaxBackoff < c.GracePeriod {
		c.MaxBackoff = 30 * time.Second
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Logger == nil {
		c.Logger = log.Std()
	}
}

// Supervisor owns the subsystem record store. Report and Reset are its only
// writers; Snapshot copies the store under the same lock, so readers always
// see a consistent point in time.
type Supervisor struct {
	cfg    Config
	clock  clock.WithTicker
	base   log.Logger
	logger log.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	stopped bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	hooksMu sync.RWMutex
	hooks   []TransitionHook

	stopOnce sync.Once
}

// New creates a supervisor with an empty store.
func New(cfg Config) *Supervisor {
	cfg.complete()
	return &Supervisor{
		cfg:     cfg,
		clock:   cfg.Clock,
		base:    cfg.Logger,
		logger:  cfg.Logger.WithName("supervisor"),
		entries: make(map[string]*entry),
	}
}

// Register adds a subsystem to the store. It must be called before Start.
func (s *Supervisor) Register(sub Subsystem) error {
	if sub.Name == "" {
		return errors.New("subsystem name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.stopped {
		return fmt.Errorf("cannot register %q: supervisor already started", sub.Name)
	}
	if _, ok := s.entries[sub.Name]; ok {
		return fmt.Errorf("subsystem %q already registered", sub.Name)
	}

	initial := StateWaiting
	if !sub.Enabled {
		initial = StateDisabled
	}

	s.entries[sub.Name] = &entry{
		rec: Record{
			Name:       sub.Name,
			State:      initial,
			LastUpdate: s.clock.Now(),
		},
		sub:     sub,
		machine: newStateMachine(initial),
	}
	metrics.ObserveSubsystemState(sub.Name, string(initial))

	s.logger.Debug("Subsystem registered", "subsystem", sub.Name, "state", initial, "watchdog", sub.Watchdog)
	return nil
}

// OnTransition registers a hook for state changes.
func (s *Supervisor) OnTransition(hook TransitionHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Start launches one watchdog per enabled subsystem that asked for one.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.stopped {
		return errors.New("supervisor already started")
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.running = true

	watched := 0
	for name, e := range s.entries {
		if !e.sub.Enabled || !e.sub.Watchdog {
			continue
		}
		watched++
		s.wg.Add(1)
		go s.watch(s.runCtx, name)
	}

	s.logger.Info("Supervisor started", "subsystems", len(s.entries), "watchdogs", watched,
		"maxRetries", s.cfg.MaxRetries, "gracePeriod", s.cfg.GracePeriod)
	return nil
}

// Stop cancels every watchdog and pending restart and waits for them.
// The store stays readable afterwards.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		wasRunning := s.running
		s.running = false
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		s.wg.Wait()
		if wasRunning {
			s.logger.Info("Supervisor stopped")
		}
	})
}

// Report applies the outcome of a probe to the named subsystem.
// It never blocks and never fails: unknown names and reports against
// FAULTY or DISABLED subsystems are ignored.
func (s *Supervisor) Report(name string, outcome Outcome, cause error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("Report for unknown subsystem ignored", "subsystem", name, "outcome", outcome)
		return
	}
	eff := s.reportLocked(e, outcome, cause)
	s.mu.Unlock()

	s.finish(eff)
}

// Heartbeat reports a Success.
func (s *Supervisor) Heartbeat(name string) {
	s.Report(name, Success, nil)
}

// Fail injects an unrecoverable failure, used by maintenance tooling.
func (s *Supervisor) Fail(name, reason string) error {
	s.mu.Lock()
	_, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return &NotFoundError{Name: name}
	}

	s.Report(name, FatalFailure, errors.New(reason))
	return nil
}

// Reset returns a FAULTY subsystem to WAITING. The restart count is kept.
func (s *Supervisor) Reset(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		metrics.SubsystemResets.WithLabelValues(name, "not_found").Inc()
		return &NotFoundError{Name: name}
	}
	if e.rec.State != StateFaulty {
		state := e.rec.State
		s.mu.Unlock()
		metrics.SubsystemResets.WithLabelValues(name, "invalid_state").Inc()
		return &InvalidStateError{Name: name, State: state, Want: StateFaulty}
	}

	from := e.rec.State
	if err := fire(context.Background(), e, EventReset, transitionArgs{entry: e, maxRetries: s.cfg.MaxRetries}); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("reset %q: %w", name, err)
	}
	e.rec.LastUpdate = s.clock.Now()
	eff := effects{from: from, rec: e.rec, outcome: -1}
	s.mu.Unlock()

	metrics.SubsystemResets.WithLabelValues(name, "ok").Inc()
	s.logger.Info("Manual reset triggered", "subsystem", name,
		"action", "state set to WAITING, restart budget renewed", "restartCount", eff.rec.RestartCount)
	s.finish(eff)
	return nil
}

// Snapshot returns a copy of every record, sorted by name, and the aggregate status.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	records := make([]Record, 0, len(s.entries))
	for _, e := range s.entries {
		records = append(records, e.rec)
	}
	now := s.clock.Now()
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	return Snapshot{
		Status:     Aggregate(records),
		Subsystems: records,
		Timestamp:  now,
	}
}

// effects carries what must happen after the lock is released.
type effects struct {
	from     State
	rec      Record
	outcome  Outcome
	cause    error
	attempts int
	restart  func(ctx context.Context) error
	ctx      context.Context
}

// reportLocked applies one outcome. The caller holds s.mu.
func (s *Supervisor) reportLocked(e *entry, outcome Outcome, cause error) effects {
	from := e.rec.State
	eff := effects{from: from, rec: e.rec, outcome: outcome, cause: cause}

	if from == StateFaulty || from == StateDisabled {
		return eff
	}

	var event string
	switch outcome {
	case Success:
		event = EventSucceed
	case TransientFailure:
		e.attempts++
		e.rec.RestartCount++
		event = EventMiss
		if e.attempts >= s.cfg.MaxRetries {
			event = EventExhaust
		}
	case FatalFailure:
		event = EventFail
	default:
		return eff
	}

	e.rec.LastUpdate = s.clock.Now()
	if err := fire(context.Background(), e, event, transitionArgs{entry: e, cause: cause, maxRetries: s.cfg.MaxRetries}); err != nil {
		s.logger.Error(err, "Transition rejected", "subsystem", e.rec.Name, "event", event)
	}
	eff.rec = e.rec
	eff.attempts = e.attempts

	if outcome == TransientFailure && e.rec.State == StateWaiting && e.sub.Restart != nil && s.running {
		eff.restart = e.sub.Restart
		eff.ctx = s.runCtx
		s.wg.Add(1)
	}
	return eff
}

// finish logs, updates metrics, runs the restart hook and notifies hooks.
// It runs without the lock.
func (s *Supervisor) finish(eff effects) {
	name := eff.rec.Name
	sublog := s.base.WithName(name)

	if eff.outcome == TransientFailure && eff.from != StateFaulty && eff.from != StateDisabled {
		metrics.SubsystemRestarts.WithLabelValues(name).Inc()
		sublog.Warn("Subsystem failure detected", "reason", errString(eff.cause),
			"action", fmt.Sprintf("restart attempt %d/%d", eff.attempts, s.cfg.MaxRetries),
			"restartCount", eff.rec.RestartCount)
	}

	if eff.restart != nil {
		go s.runRestart(eff.ctx, name, eff.restart)
	}

	if eff.from == eff.rec.State {
		return
	}

	metrics.ObserveSubsystemState(name, string(eff.rec.State))

	switch eff.rec.State {
	case StateActive:
		sublog.Info("Subsystem reached steady state (ACTIVE)", "reason", "health checks passed", "action", "monitoring operational data")
	case StateFaulty:
		s.logger.Error(errors.New(eff.rec.LastError), fmt.Sprintf("Subsystem %s marked as FAULTY", name),
			"reason", eff.rec.Message, "action", "automatic recovery suspended until manual reset")
	case StateWaiting:
		sublog.Info("Subsystem waiting", "reason", eff.rec.Message)
	}

	snap := s.Snapshot()
	metrics.SystemStatus.Set(statusValue(snap.Status))

	t := Transition{Name: name, From: eff.from, To: eff.rec.State, Record: eff.rec}
	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, h := range hooks {
		h(t)
	}
}

func (s *Supervisor) runRestart(ctx context.Context, name string, restart func(context.Context) error) {
	defer s.wg.Done()
	if err := restart(ctx); err != nil && ctx.Err() == nil {
		s.base.WithName(name).Warn("Restart attempt failed", "reason", err.Error())
	}
}

// backoff is how long a subsystem may stay silent given the attempts already made.
func (s *Supervisor) backoff(attempts int) time.Duration {
	d := s.cfg.GracePeriod + time.Duration(attempts)*s.cfg.Backoff
	if d > s.cfg.MaxBackoff {
		return s.cfg.MaxBackoff
	}
	return d
}

func statusValue(st Status) float64 {
	switch st {
	case StatusDegraded:
		return 1
	case StatusFaulty:
		return 2
	default:
		return 0
	}
}

func errString(err error) string {
	if err == nil {
		return ErrHeartbeatMissed.Error()
	}
	return err.Error()
}
