package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/vandash/internal/logbuffer"
	"github.com/autopeer-io/vandash/internal/supervisor"
	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/options"
)

func testConfig() *Config {
	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"
	grpcOpts := options.NewGrpcOptions()
	grpcOpts.Enabled = false

	obd := options.NewObdOptions()
	obd.PollInterval = 10 * time.Millisecond

	return &Config{
		Mode:               ModeOperational,
		VehicleID:          "van-test",
		Subsystems:         DefaultSubsystems(),
		ProbeInterval:      10 * time.Millisecond,
		LogOptions:         log.NewOptions(),
		HttpOptions:        httpOpts,
		GrpcOptions:        grpcOpts,
		MqttOptions:        options.NewMqttOptions(),
		SupervisionOptions: options.NewSupervisionOptions(),
		ObdOptions:         obd,
		StreamOptions:      options.NewStreamOptions(),
		LogBufferOptions:   options.NewLogBufferOptions(),
	}
}

func TestAgentRunsAndKeepsFinalSnapshot(t *testing.T) {
	a, err := testConfig().New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec, _ := a.Supervisor().Snapshot().Get(SubsystemObd)
		return rec.State == supervisor.StateActive
	}, 2*time.Second, 5*time.Millisecond)

	latest, ok := a.stream.Latest()
	require.True(t, ok)
	assert.True(t, latest.Simulated)

	require.Eventually(t, func() bool {
		rec, _ := a.Supervisor().Snapshot().Get("camera_rear")
		return rec.State == supervisor.StateActive
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}

	snap := a.Supervisor().Snapshot()
	front, ok := snap.Get("camera_front")
	require.True(t, ok)
	assert.Equal(t, supervisor.StateDisabled, front.State)
	assert.NotEmpty(t, a.logs.Tail(logbuffer.Query{Source: "obd"}))
}

func TestNewRequiresVehicleID(t *testing.T) {
	cfg := testConfig()
	cfg.VehicleID = ""
	_, err := cfg.New()
	assert.Error(t, err)
}

func TestForceSimulation(t *testing.T) {
	tests := []struct {
		name       string
		mode       string
		simulation bool
		allowReal  bool
		mqtt       bool
		want       bool
	}{
		{"live configured", ModeOperational, false, false, true, false},
		{"simulation in operation", ModeOperational, true, true, true, true},
		{"maintenance override with feed", ModeMaintenance, true, true, true, false},
		{"maintenance override without feed", ModeMaintenance, true, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Mode = tt.mode
			cfg.ObdOptions.Simulation = tt.simulation
			cfg.ObdOptions.AllowReal = tt.allowReal
			cfg.MqttOptions.Enabled = tt.mqtt
			assert.Equal(t, tt.want, cfg.forceSimulation())
		})
	}
}
