package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/vandash/internal/logbuffer"
	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/pkg/log"
)

type funcProbe struct {
	name  string
	check func(ctx context.Context) error
}

func (p funcProbe) Name() string                    { return p.name }
func (p funcProbe) Check(ctx context.Context) error { return p.check(ctx) }

type recorder struct {
	mu       sync.Mutex
	outcomes map[string][]supervisor.Outcome
}

func newRecorder() *recorder { return &recorder{outcomes: make(map[string][]supervisor.Outcome)} }

func (r *recorder) Report(name string, outcome supervisor.Outcome, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[name] = append(r.outcomes[name], outcome)
}

func (r *recorder) get(name string) []supervisor.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]supervisor.Outcome(nil), r.outcomes[name]...)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want supervisor.Outcome
	}{
		{nil, supervisor.Success},
		{errors.New("timeout"), supervisor.TransientFailure},
		{fmt.Errorf("camera: %w", ErrFatal), supervisor.FatalFailure},
		{errors.Join(ErrFatal, errors.New("gone")), supervisor.FatalFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err), "%v", tt.err)
	}
}

func TestCheckOnceReports(t *testing.T) {
	rec := newRecorder()
	r := NewRunner(time.Second, rec, log.NewNopLogger())

	r.CheckOnce(t.Context(), NewStaticProbe("backend"))
	r.CheckOnce(t.Context(), funcProbe{"camera_rear", func(context.Context) error { return errors.New("no frames") }})
	r.CheckOnce(t.Context(), funcProbe{"camera_rear", func(context.Context) error { return ErrFatal }})

	assert.Equal(t, []supervisor.Outcome{supervisor.Success}, rec.get("backend"))
	assert.Equal(t, []supervisor.Outcome{supervisor.TransientFailure, supervisor.FatalFailure}, rec.get("camera_rear"))
}

func TestCheckOnceSkipsCancelledChecks(t *testing.T) {
	rec := newRecorder()
	r := NewRunner(time.Second, rec, log.NewNopLogger())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	r.CheckOnce(ctx, funcProbe{"obd", func(ctx context.Context) error { return ctx.Err() }})

	assert.Empty(t, rec.get("obd"))
}

func TestRunnerRunsUntilCancelled(t *testing.T) {
	rec := newRecorder()
	r := NewRunner(10*time.Millisecond, rec, log.NewNopLogger(), NewStaticProbe("backend"))
	r.Add(NewStaticProbe("system"))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(rec.get("backend")) >= 2 && len(rec.get("system")) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestLogBufferProbe(t *testing.T) {
	assert.NoError(t, NewLogBufferProbe("logging", logbuffer.New(8)).Check(t.Context()))

	err := NewLogBufferProbe("logging", nil).Check(t.Context())
	assert.ErrorIs(t, err, ErrFatal)
}

func TestSystemProbeStats(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	p := NewSystemProbe("system", "/", clk)
	assert.Equal(t, "system", p.Name())
	assert.Zero(t, p.Stats().SampledAt)

	clk.Step(90 * time.Second)
	if err := p.Check(t.Context()); err != nil {
		t.Skipf("host metrics unavailable: %v", err)
	}

	s := p.Stats()
	assert.Equal(t, int64(90), s.Uptime)
	assert.Equal(t, clk.Now(), s.SampledAt)
	assert.GreaterOrEqual(t, s.RAMUsage, 0.0)
	assert.LessOrEqual(t, s.RAMUsage, 100.0)
}
