// Package probe runs periodic health checks and turns their results into
// supervisor reports.
package probe

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/pkg/log"
)

// ErrFatal marks a check failure that retrying cannot fix.
var ErrFatal = errors.New("fatal probe failure")

// Probe checks one subsystem.
type Probe interface {
	// Name is the subsystem the result is reported under.
	Name() string
	// Check returns nil when healthy. Errors wrapping ErrFatal are unrecoverable.
	Check(ctx context.Context) error
}

// Reporter receives probe outcomes.
type Reporter interface {
	Report(name string, outcome supervisor.Outcome, cause error)
}

// Outcome classifies a check result.
func Outcome(err error) supervisor.Outcome {
	switch {
	case err == nil:
		return supervisor.Success
	case errors.Is(err, ErrFatal):
		return supervisor.FatalFailure
	default:
		return supervisor.TransientFailure
	}
}

// Runner drives a set of probes on a common interval.
type Runner struct {
	interval time.Duration
	timeout  time.Duration
	reporter Reporter
	logger   log.Logger
	probes   []Probe
}

// NewRunner returns a runner checking every interval. Each check gets at most
// half an interval.
func NewRunner(interval time.Duration, reporter Reporter, logger log.Logger, probes ...Probe) *Runner {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = log.Std()
	}
	return &Runner{
		interval: interval,
		timeout:  interval / 2,
		reporter: reporter,
		logger:   logger.WithName("probe"),
		probes:   probes,
	}
}

// Add registers another probe. It must be called before Run.
func (r *Runner) Add(p Probe) {
	r.probes = append(r.probes, p)
}

// Run checks every probe until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, p := range r.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			wait.UntilWithContext(ctx, func(ctx context.Context) { r.CheckOnce(ctx, p) }, r.interval)
		}(p)
	}
	r.logger.Info("Health probes started", "probes", len(r.probes), "interval", r.interval)
	wg.Wait()
	return nil
}

// CheckOnce runs a single check of p and reports the outcome.
func (r *Runner) CheckOnce(ctx context.Context, p Probe) {
	checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := p.Check(checkCtx)
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		r.logger.Debug("Probe failed", "subsystem", p.Name(), "error", err.Error())
	}
	r.reporter.Report(p.Name(), Outcome(err), err)
}
