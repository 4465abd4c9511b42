package options

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/vandash/internal/agent"
	"github.com/autopeer-io/vandash/pkg/app"
	"github.com/autopeer-io/vandash/pkg/log"
	"github.com/autopeer-io/vandash/pkg/options"
)

// vehicleIDFile is written by the provisioning service of the van.
var vehicleIDFile = "/etc/vandash/vehicle-id"

type AgentOptions struct {
	Mode          string                  `json:"mode" mapstructure:"mode"`
	VehicleID     string                  `json:"vehicle-id" mapstructure:"vehicle-id"`
	ProbeInterval time.Duration           `json:"probe-interval" mapstructure:"probe-interval"`
	Subsystems    []agent.SubsystemConfig `json:"subsystems" mapstructure:"subsystems"`

	HttpOptions        *options.HttpOptions        `json:"http" mapstructure:"http"`
	GrpcOptions        *options.GrpcOptions        `json:"grpc" mapstructure:"grpc"`
	MqttOptions        *options.MqttOptions        `json:"mqtt" mapstructure:"mqtt"`
	SupervisionOptions *options.SupervisionOptions `json:"supervision" mapstructure:"supervision"`
	ObdOptions         *options.ObdOptions         `json:"obd" mapstructure:"obd"`
	StreamOptions      *options.StreamOptions      `json:"stream" mapstructure:"stream"`
	LogBufferOptions   *options.LogBufferOptions   `json:"logbuffer" mapstructure:"logbuffer"`
	Log                *log.Options                `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		Mode:               agent.ModeOperational,
		ProbeInterval:      5 * time.Second,
		Subsystems:         agent.DefaultSubsystems(),
		HttpOptions:        options.NewHttpOptions(),
		GrpcOptions:        options.NewGrpcOptions(),
		MqttOptions:        options.NewMqttOptions(),
		SupervisionOptions: options.NewSupervisionOptions(),
		ObdOptions:         options.NewObdOptions(),
		StreamOptions:      options.NewStreamOptions(),
		LogBufferOptions:   options.NewLogBufferOptions(),
		Log:                log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.addAgentFlags(fss.FlagSet("Agent"))
	o.SupervisionOptions.AddFlags(fss.FlagSet("Supervision"))
	o.ObdOptions.AddFlags(fss.FlagSet("OBD"))
	o.StreamOptions.AddFlags(fss.FlagSet("Stream"))
	o.HttpOptions.AddFlags(fss.FlagSet("HTTP"))
	o.GrpcOptions.AddFlags(fss.FlagSet("gRPC"))
	o.MqttOptions.AddFlags(fss.FlagSet("MQTT"))
	o.LogBufferOptions.AddFlags(fss.FlagSet("Log buffer"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

func (o *AgentOptions) addAgentFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Mode, "mode", o.Mode, "Run mode, 'operational' or 'maintenance'. Maintenance enables fault injection and debug logs.")
	fs.StringVar(&o.VehicleID, "vehicle-id", o.VehicleID,
		fmt.Sprintf("Identifier of this van. Discovered from %s or the hostname when empty.", vehicleIDFile))
	fs.DurationVar(&o.ProbeInterval, "probe-interval", o.ProbeInterval, "Period of the built-in subsystem probes.")
}

// Complete discovers the vehicle ID when it was not configured.
func (o *AgentOptions) Complete() error {
	o.Mode = strings.ToLower(strings.TrimSpace(o.Mode))
	if o.VehicleID == "" {
		o.VehicleID = DiscoverVehicleID()
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}

	if o.Mode != agent.ModeOperational && o.Mode != agent.ModeMaintenance {
		errs = append(errs, fmt.Errorf("--mode must be %q or %q, got %q", agent.ModeOperational, agent.ModeMaintenance, o.Mode))
	}
	if o.VehicleID == "" {
		errs = append(errs, fmt.Errorf("--vehicle-id is required and could not be discovered"))
	}
	if o.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("--probe-interval must be positive"))
	}
	errs = append(errs, validateSubsystems(o.Subsystems)...)

	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.SupervisionOptions.Validate()...)
	errs = append(errs, o.ObdOptions.Validate()...)
	errs = append(errs, o.StreamOptions.Validate()...)
	errs = append(errs, o.LogBufferOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	return utilerrors.NewAggregate(errs)
}

func validateSubsystems(subsystems []agent.SubsystemConfig) []error {
	var errs []error
	seen := make(map[string]struct{}, len(subsystems))
	for i, s := range subsystems {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("subsystems[%d]: name must not be empty", i))
			continue
		}
		if _, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Errorf("subsystems[%d]: duplicate subsystem %q", i, s.Name))
		}
		seen[s.Name] = struct{}{}
	}
	return errs
}

func (o *AgentOptions) Config() (*agent.Config, error) {
	return &agent.Config{
		Mode:               o.Mode,
		VehicleID:          o.VehicleID,
		Subsystems:         slices.Clone(o.Subsystems),
		ProbeInterval:      o.ProbeInterval,
		LogOptions:         o.Log,
		HttpOptions:        o.HttpOptions,
		GrpcOptions:        o.GrpcOptions,
		MqttOptions:        o.MqttOptions,
		SupervisionOptions: o.SupervisionOptions,
		ObdOptions:         o.ObdOptions,
		StreamOptions:      o.StreamOptions,
		LogBufferOptions:   o.LogBufferOptions,
	}, nil
}

// DiscoverVehicleID reads the identifier written at provisioning time and
// falls back to the hostname. VANDASH_VEHICLE_ID is applied earlier through
// the environment binding of --vehicle-id.
func DiscoverVehicleID() string {
	if content, err := os.ReadFile(vehicleIDFile); err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			return id
		}
	}

	if host, err := os.Hostname(); err == nil {
		return host
	}
	return ""
}
