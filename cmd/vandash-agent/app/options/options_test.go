package options

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/vandash/internal/agent"
)

func TestFlagsCoverEveryGroup(t *testing.T) {
	o := NewAgentOptions()
	fss := o.Flags()

	for _, name := range []string{
		"mode", "vehicle-id", "probe-interval",
		"supervision.max-retries", "obd.simulation", "stream.buffer-size",
		"http.addr", "grpc.addr", "mqtt.broker", "logbuffer.capacity", "log.level",
	} {
		found := false
		for _, fs := range fss.FlagSets {
			if fs.Lookup(name) != nil {
				found = true
				break
			}
		}
		assert.True(t, found, "flag --%s", name)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *AgentOptions)
		wantErr string
	}{
		{name: "defaults", mutate: func(o *AgentOptions) {}},
		{
			name:    "unknown mode",
			mutate:  func(o *AgentOptions) { o.Mode = "racing" },
			wantErr: "--mode must be",
		},
		{
			name:    "missing vehicle id",
			mutate:  func(o *AgentOptions) { o.VehicleID = "" },
			wantErr: "--vehicle-id is required",
		},
		{
			name: "duplicate subsystem",
			mutate: func(o *AgentOptions) {
				o.Subsystems = append(o.Subsystems, agent.SubsystemConfig{Name: agent.SubsystemObd, Enabled: true})
			},
			wantErr: `duplicate subsystem "obd"`,
		},
		{
			name:    "unnamed subsystem",
			mutate:  func(o *AgentOptions) { o.Subsystems = []agent.SubsystemConfig{{Enabled: true}} },
			wantErr: "name must not be empty",
		},
		{
			name:    "nested option group",
			mutate:  func(o *AgentOptions) { o.Log.Level = "loud" },
			wantErr: `invalid log level "loud"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewAgentOptions()
			o.VehicleID = "van-1"
			tt.mutate(o)

			err := o.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCompleteDiscoversVehicleID(t *testing.T) {
	file := filepath.Join(t.TempDir(), "vehicle-id")
	require.NoError(t, os.WriteFile(file, []byte("  VAN-0042\n"), 0o600))

	orig := vehicleIDFile
	vehicleIDFile = file
	t.Cleanup(func() { vehicleIDFile = orig })

	o := NewAgentOptions()
	o.Mode = " Maintenance "
	require.NoError(t, o.Complete())
	assert.Equal(t, "VAN-0042", o.VehicleID)
	assert.Equal(t, agent.ModeMaintenance, o.Mode)

	o = NewAgentOptions()
	o.VehicleID = "explicit"
	require.NoError(t, o.Complete())
	assert.Equal(t, "explicit", o.VehicleID)
}

func TestDiscoverFallsBackToHostname(t *testing.T) {
	orig := vehicleIDFile
	vehicleIDFile = filepath.Join(t.TempDir(), "missing")
	t.Cleanup(func() { vehicleIDFile = orig })

	host, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, host, DiscoverVehicleID())
}

func TestConfig(t *testing.T) {
	o := NewAgentOptions()
	o.VehicleID = "van-1"
	o.Mode = agent.ModeMaintenance

	cfg, err := o.Config()
	require.NoError(t, err)

	assert.Equal(t, "van-1", cfg.VehicleID)
	assert.Equal(t, agent.ModeMaintenance, cfg.Mode)
	assert.Equal(t, agent.DefaultSubsystems(), cfg.Subsystems)
	assert.Same(t, o.ObdOptions, cfg.ObdOptions)
	assert.Same(t, o.Log, cfg.LogOptions)
}
