package telemetry

import (
	"context"
	"math"
	"time"

	"k8s.io/utils/clock"
	"k8s.io/utils/ptr"
)

// DefaultCycle is the period of the simulated drive.
const DefaultCycle = 15 * time.Second

// Simulator sweeps every sensor from idle to its maximum and back over one cycle.
type Simulator struct {
	clock clock.PassiveClock
	start time.Time
	cycle time.Duration
}

// NewSimulator starts a cycle at the current time of clk.
func NewSimulator(clk clock.PassiveClock, cycle time.Duration) *Simulator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cycle <= 0 {
		cycle = DefaultCycle
	}
	return &Simulator{clock: clk, start: clk.Now(), cycle: cycle}
}

func (s *Simulator) Read(_ context.Context) (Reading, error) {
	return s.At(s.clock.Now()), nil
}

// At returns the simulated reading at t.
func (s *Simulator) At(t time.Time) Reading {
	c := s.phase(t)
	return Reading{
		Timestamp:   t,
		RPM:         ptr.To(math.Round(800 + 6200*c)),
		Speed:       ptr.To(round1(120 * c)),
		CoolantTemp: ptr.To(round1(20 + 90*c)),
		ThrottlePos: ptr.To(round1(100 * c)),
		IntakeTemp:  ptr.To(25 + 5*c),
		Voltage:     ptr.To(round1(12 + 2.5*c)),
		Simulated:   true,
	}
}

// phase is a triangle wave in [0, 1]: 0 at the start of a cycle, 1 half way.
func (s *Simulator) phase(t time.Time) float64 {
	elapsed := t.Sub(s.start)
	if elapsed < 0 {
		elapsed = 0
	}
	p := float64(elapsed%s.cycle) / float64(s.cycle)
	return 1 - math.Abs(2*p-1)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
