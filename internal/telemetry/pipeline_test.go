package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/pkg/log"
)

var errAdapter = errors.New("adapter not responding")

// scriptedSource fails on the reads listed in fail (1-based) and succeeds otherwise.
type scriptedSource struct {
	mu    sync.Mutex
	reads int
	fail  map[int]bool
}

func failing(reads ...int) *scriptedSource {
	s := &scriptedSource{fail: make(map[int]bool)}
	for _, r := range reads {
		s.fail[r] = true
	}
	return s
}

func (s *scriptedSource) Read(_ context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.fail[s.reads] {
		return Reading{}, errAdapter
	}
	return Reading{RPM: ptr.To(2000.0)}, nil
}

type report struct {
	name    string
	outcome supervisor.Outcome
	cause   error
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) Report(name string, outcome supervisor.Outcome, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{name, outcome, cause})
}

func (r *recordingReporter) outcomes() []supervisor.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]supervisor.Outcome, 0, len(r.reports))
	for _, rep := range r.reports {
		out = append(out, rep.outcome)
	}
	return out
}

func newTestPipeline(live Source, clk *testingclock.FakeClock, rep Reporter) (*Pipeline, *Broadcaster) {
	out := NewBroadcaster(64, log.NewNopLogger())
	p := NewPipeline(PipelineConfig{
		Subsystem:    "obd",
		RecoverReads: 3,
		Clock:        clk,
		Logger:       log.NewNopLogger(),
	}, live, NewSimulator(clk, 0), out, rep)
	return p, out
}

func steps(p *Pipeline, n int) []bool {
	simulated := make([]bool, 0, n)
	for i := 0; i < n; i++ {
		simulated = append(simulated, p.Step(context.Background()).Simulated)
	}
	return simulated
}

func TestPipelineFallbackAndRecovery(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	rep := &recordingReporter{}
	p, out := newTestPipeline(failing(1, 2, 3), clk, rep)
	sub := out.Subscribe(t.Context())

	// Three failing ticks are simulated from the first one on, then three
	// live successes are needed before live readings are published again.
	got := steps(p, 7)
	assert.Equal(t, []bool{true, true, true, true, true, false, false}, got)
	assert.Equal(t, ModeLive, p.Mode())

	assert.Equal(t, []supervisor.Outcome{
		supervisor.TransientFailure,
		supervisor.Success,
		supervisor.Success,
	}, rep.outcomes())
	assert.ErrorIs(t, rep.reports[0].cause, errAdapter)
	assert.Equal(t, "obd", rep.reports[0].name)

	var last uint64
	for i := 0; i < 7; i++ {
		r := <-sub.C()
		assert.Equal(t, last+1, r.Seq)
		last = r.Seq
	}
}

func TestPipelineFailureResetsRecoveryCount(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(failing(1, 4), clk, &recordingReporter{})

	got := steps(p, 7)
	assert.Equal(t, []bool{true, true, true, true, true, true, false}, got)
}

func TestPipelinePacesFailureReports(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	rep := &recordingReporter{}
	p, _ := newTestPipeline(failing(1, 2, 3, 4, 5, 6, 7, 8), clk, rep)

	steps(p, 3)
	assert.Len(t, rep.outcomes(), 1)

	clk.Step(5 * time.Second)
	steps(p, 2)
	assert.Len(t, rep.outcomes(), 2)

	clk.Step(5 * time.Second)
	steps(p, 1)
	assert.Len(t, rep.outcomes(), 2, "second interval doubles")

	clk.Step(5 * time.Second)
	steps(p, 1)
	assert.Len(t, rep.outcomes(), 3)
	assert.Equal(t, ModeFallback, p.Mode())
}

func TestPipelineForcedSimulation(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	rep := &recordingReporter{}
	p, _ := newTestPipeline(failing(), clk, rep)

	assert.False(t, p.Step(context.Background()).Simulated)

	assert.True(t, p.ToggleSimulation())
	r := p.Step(context.Background())
	assert.True(t, r.Simulated)
	assert.Equal(t, ModeForced, p.Mode())
	assert.True(t, p.Simulated())

	assert.False(t, p.ToggleSimulation())
	assert.False(t, p.Step(context.Background()).Simulated)
	assert.Equal(t, ModeLive, p.Mode())

	for _, o := range rep.outcomes() {
		assert.Equal(t, supervisor.Success, o)
	}
}

func TestPipelineWithoutLiveSource(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	p, _ := newTestPipeline(nil, clk, &recordingReporter{})

	assert.Equal(t, ModeForced, p.Mode())
	assert.True(t, p.ToggleSimulation())
	assert.True(t, p.SetForcedSimulation(false))
	assert.True(t, p.Step(context.Background()).Simulated)
}

func TestPipelineDrivesSupervisor(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	sup := supervisor.New(supervisor.Config{Clock: clk, Logger: log.NewNopLogger()})
	require.NoError(t, sup.Register(supervisor.Subsystem{Name: "obd", Enabled: true}))

	p, _ := newTestPipeline(failing(2), clk, sup)

	steps(p, 1)
	rec, _ := sup.Snapshot().Get("obd")
	assert.Equal(t, supervisor.StateActive, rec.State)

	steps(p, 1)
	rec, _ = sup.Snapshot().Get("obd")
	assert.Equal(t, supervisor.StateWaiting, rec.State)
	assert.Equal(t, 1, rec.RestartCount)

	steps(p, 3)
	rec, _ = sup.Snapshot().Get("obd")
	assert.Equal(t, supervisor.StateActive, rec.State)
	assert.Equal(t, 1, rec.RestartCount)
}

func TestPipelineRun(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	p, out := newTestPipeline(failing(), clk, &recordingReporter{})
	sub := out.Subscribe(t.Context())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(250 * time.Millisecond)

	select {
	case r := <-sub.C():
		assert.Equal(t, uint64(1), r.Seq)
	case <-time.After(time.Second):
		t.Fatal("no reading published")
	}

	cancel()
	require.NoError(t, <-done)
}
