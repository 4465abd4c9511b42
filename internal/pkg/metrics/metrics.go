package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the agent registry served on /metrics.
var Registry = prometheus.NewRegistry()

// knownStates lists every subsystem state, so the state gauge can be set one-hot.
var knownStates = []string{"ACTIVE", "WAITING", "FAULTY", "DISABLED"}

var (
	// SubsystemState is 1 for the current state of a subsystem and 0 for the others.
	SubsystemState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vandash_subsystem_state",
			Help: "Current lifecycle state of a subsystem (1 for the active state).",
		},
		[]string{"subsystem", "state"},
	)

	// SubsystemRestarts counts automatic restart attempts.
	SubsystemRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vandash_subsystem_restarts_total",
			Help: "Automatic restart attempts per subsystem.",
		},
		[]string{"subsystem"},
	)

	// SubsystemResets counts manual reset commands by result.
	SubsystemResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vandash_subsystem_resets_total",
			Help: "Manual reset commands per subsystem and result.",
		},
		[]string{"subsystem", "result"}, // result: ok/not_found/invalid_state
	)

	// SystemStatus is the aggregate verdict: 0=OK, 1=DEGRADED, 2=FAULTY.
	SystemStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vandash_system_status",
			Help: "Aggregate system status (0=OK, 1=DEGRADED, 2=FAULTY).",
		},
	)

	// StreamSubscribers is the number of open telemetry subscriptions.
	StreamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vandash_stream_subscribers",
			Help: "Open telemetry stream subscriptions.",
		},
	)

	// StreamDropped counts readings discarded because a subscriber lagged.
	StreamDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vandash_stream_dropped_total",
			Help: "Readings dropped from lagging subscriber buffers.",
		},
	)

	// StreamReadings counts published readings by provenance.
	StreamReadings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vandash_stream_readings_total",
			Help: "Telemetry readings published, by provenance.",
		},
		[]string{"simulated"},
	)

	// LiveReadLatency observes live sensor reads.
	LiveReadLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vandash_live_read_duration_seconds",
			Help:    "Latency of live telemetry reads.",
			Buckets: []float64{.005, .01, .025, .05, .1, .2, .5},
		},
		[]string{"result"}, // result: ok/error
	)

	// LogEntries counts entries appended to the log ring by level.
	LogEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vandash_log_entries_total",
			Help: "Entries appended to the in-memory log ring.",
		},
		[]string{"level"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SubsystemState,
		SubsystemRestarts,
		SubsystemResets,
		SystemStatus,
		StreamSubscribers,
		StreamDropped,
		StreamReadings,
		LiveReadLatency,
		LogEntries,
	)
}

// ObserveSubsystemState sets the one-hot state gauge of a subsystem.
func ObserveSubsystemState(subsystem, state string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1
		}
		SubsystemState.WithLabelValues(subsystem, s).Set(v)
	}
}
