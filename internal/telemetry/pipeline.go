package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/vandash/internal/pkg/metrics"
	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/pkg/log"
)

// Mode is where the pipeline currently takes its readings from.
type Mode string

const (
	// ModeLive serves readings from the live source.
	ModeLive Mode = "live"
	// ModeFallback serves simulated readings while the live source recovers.
	ModeFallback Mode = "fallback"
	// ModeForced serves simulated readings on request.
	ModeForced Mode = "forced"
)

// Reporter receives health outcomes of the pipeline.
type Reporter interface {
	Report(name string, outcome supervisor.Outcome, cause error)
}

// PipelineConfig tunes a Pipeline. Zero values fall back to the defaults.
type PipelineConfig struct {
	// Subsystem is the name outcomes are reported under.
	Subsystem string
	// Interval is the sampling cadence.
	Interval time.Duration
	// ReadTimeout bounds a single live read.
	ReadTimeout time.Duration
	// RecoverReads is the number of consecutive live successes needed to leave fallback.
	RecoverReads int
	// ReportBackoff and MaxReportBackoff pace repeated failure reports during fallback.
	ReportBackoff    time.Duration
	MaxReportBackoff time.Duration
	// ForceSimulation starts the pipeline in simulation.
	ForceSimulation bool

	Clock  clock.WithTicker
	Logger log.Logger
}

func (c *PipelineConfig) complete() {
	if c.Subsystem == "" {
		c.Subsystem = "obd"
	}
	if c.Interval <= 0 {
		c.Interval = 250 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 200 * time.Millisecond
	}
	if c.RecoverReads <= 0 {
		c.RecoverReads = 3
	}
	if c.ReportBackoff <= 0 {
		c.ReportBackoff = 5 * time.Second
	}
	if c.MaxReportBackoff < c.ReportBackoff {
		c.MaxReportBackoff = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Logger == nil {
		c.Logger = log.Std()
	}
}

// Pipeline samples the live source on a fixed cadence and falls back to the
// simulator whenever the live source fails, so the stream never goes quiet.
// Step is driven by a single goroutine; the mode is safe to read from any.
type Pipeline struct {
	cfg      PipelineConfig
	live     Source
	sim      Source
	out      *Broadcaster
	reporter Reporter
	logger   log.Logger

	forced atomic.Bool
	mode   atomic.Value // Mode

	// guarded by stepMu
	stepMu     sync.Mutex
	inFallback bool
	recovered  int
	seq        uint64
	nextReport time.Time
	pacing     *backoff.ExponentialBackOff
}

// NewPipeline wires a pipeline. live may be nil, in which case every reading is simulated.
func NewPipeline(cfg PipelineConfig, live, sim Source, out *Broadcaster, reporter Reporter) *Pipeline {
	cfg.complete()

	pacing := backoff.NewExponentialBackOff()
	pacing.InitialInterval = cfg.ReportBackoff
	pacing.MaxInterval = cfg.MaxReportBackoff
	pacing.Multiplier = 2
	pacing.RandomizationFactor = 0
	pacing.MaxElapsedTime = 0
	pacing.Reset()

	p := &Pipeline{
		cfg:      cfg,
		live:     live,
		sim:      sim,
		out:      out,
		reporter: reporter,
		logger:   cfg.Logger.WithName(cfg.Subsystem),
		pacing:   pacing,
	}
	p.forced.Store(cfg.ForceSimulation || live == nil)
	p.mode.Store(ModeLive)
	if p.forced.Load() {
		p.mode.Store(ModeForced)
	}
	return p
}

// Mode returns the current reading origin.
func (p *Pipeline) Mode() Mode {
	return p.mode.Load().(Mode)
}

// Simulated reports whether readings are currently simulated.
func (p *Pipeline) Simulated() bool {
	return p.Mode() != ModeLive
}

// SetForcedSimulation switches forced simulation on or off. Without a live
// source simulation cannot be turned off.
func (p *Pipeline) SetForcedSimulation(on bool) bool {
	if p.live == nil {
		on = true
	}
	if p.forced.Swap(on) != on {
		p.logger.Info("Simulation mode changed", "active", on)
	}
	return on
}

// ToggleSimulation flips forced simulation and returns the new setting.
func (p *Pipeline) ToggleSimulation() bool {
	for {
		cur := p.forced.Load()
		if p.live == nil {
			return true
		}
		if p.forced.CompareAndSwap(cur, !cur) {
			p.logger.Info("Simulation mode changed", "active", !cur)
			return !cur
		}
	}
}

// ForcedSimulation reports whether simulation is forced.
func (p *Pipeline) ForcedSimulation() bool {
	return p.forced.Load()
}

// Run steps the pipeline every interval until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("Telemetry pipeline started", "interval", p.cfg.Interval, "mode", p.Mode())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Telemetry pipeline stopped")
			return nil
		case <-ticker.C():
			p.Step(ctx)
		}
	}
}

// Step produces and publishes exactly one reading.
func (p *Pipeline) Step(ctx context.Context) Reading {
	p.stepMu.Lock()
	defer p.stepMu.Unlock()

	if p.forced.Load() {
		if p.Mode() != ModeForced {
			p.mode.Store(ModeForced)
			p.inFallback = false
			p.recovered = 0
		}
		p.reporter.Report(p.cfg.Subsystem, supervisor.Success, nil)
		return p.emit(ctx, p.simulate(ctx))
	}

	r, err := p.readLive(ctx)
	now := p.cfg.Clock.Now()

	if !p.inFallback {
		if err == nil {
			p.mode.Store(ModeLive)
			p.reporter.Report(p.cfg.Subsystem, supervisor.Success, nil)
			return p.emit(ctx, r)
		}
		p.inFallback = true
		p.recovered = 0
		p.mode.Store(ModeFallback)
		p.pacing.Reset()
		p.nextReport = now.Add(p.pacing.NextBackOff())
		p.reporter.Report(p.cfg.Subsystem, supervisor.TransientFailure, err)
		p.logger.Warn("Live telemetry failed, serving simulated readings",
			"intent", "keep the stream flowing", "reason", err.Error(), "action", "falling back to simulator")
		return p.emit(ctx, p.simulate(ctx))
	}

	if err != nil {
		p.recovered = 0
		if !now.Before(p.nextReport) {
			p.nextReport = now.Add(p.pacing.NextBackOff())
			p.reporter.Report(p.cfg.Subsystem, supervisor.TransientFailure, err)
			p.logger.Debug("Live telemetry still unavailable", "reason", err.Error(), "next_report", p.nextReport)
		}
		return p.emit(ctx, p.simulate(ctx))
	}

	p.recovered++
	if p.recovered < p.cfg.RecoverReads {
		return p.emit(ctx, p.simulate(ctx))
	}

	p.inFallback = false
	p.recovered = 0
	p.mode.Store(ModeLive)
	p.reporter.Report(p.cfg.Subsystem, supervisor.Success, nil)
	p.logger.Info("Live telemetry recovered",
		"reason", "consecutive live reads succeeded", "action", "serving live readings")
	return p.emit(ctx, r)
}

func (p *Pipeline) readLive(ctx context.Context) (Reading, error) {
	readCtx, cancel := context.WithTimeout(ctx, p.cfg.ReadTimeout)
	defer cancel()

	start := p.cfg.Clock.Now()
	r, err := p.live.Read(readCtx)
	elapsed := p.cfg.Clock.Since(start).Seconds()

	if err == nil && r.Empty() {
		err = ErrSourceUnavailable
	}
	if err != nil {
		metrics.LiveReadLatency.WithLabelValues("error").Observe(elapsed)
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(ErrSourceUnavailable, err)
		}
		return Reading{}, err
	}
	metrics.LiveReadLatency.WithLabelValues("ok").Observe(elapsed)
	r.Simulated = false
	return r, nil
}

func (p *Pipeline) simulate(ctx context.Context) Reading {
	r, err := p.sim.Read(ctx)
	if err != nil {
		r = Reading{}
	}
	r.Simulated = true
	return r
}

func (p *Pipeline) emit(_ context.Context, r Reading) Reading {
	p.seq++
	r.Seq = p.seq
	if r.Timestamp.IsZero() {
		r.Timestamp = p.cfg.Clock.Now()
	}
	if p.out != nil {
		p.out.Publish(r)
	}
	return r
}
