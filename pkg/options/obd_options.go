package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ObdOptions)(nil)

// ObdOptions configures the vehicle telemetry pipeline.
type ObdOptions struct {
	// Simulation forces synthetic readings regardless of the live feed.
	Simulation bool `json:"simulation" mapstructure:"simulation"`

	// AllowReal lets maintenance mode override Simulation when a live feed is present.
	AllowReal bool `json:"allow-real" mapstructure:"allow-real"`

	// Topic is the MQTT topic segment the OBD bridge publishes samples on.
	Topic string `json:"topic" mapstructure:"topic"`

	// PollInterval is the sampling cadence.
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// ReadTimeout bounds a single live read.
	ReadTimeout time.Duration `json:"read-timeout" mapstructure:"read-timeout"`

	// RecoverReads is the number of consecutive live reads needed to leave the simulated fallback.
	RecoverReads int `json:"recover-reads" mapstructure:"recover-reads"`

	// StaleAfter is the age after which a buffered live sample is no longer served.
	StaleAfter time.Duration `json:"stale-after" mapstructure:"stale-after"`
}

// NewObdOptions returns the default telemetry settings.
func NewObdOptions() *ObdOptions {
	return &ObdOptions{
		Simulation:   false,
		AllowReal:    true,
		Topic:        "obd",
		PollInterval: 250 * time.Millisecond,
		ReadTimeout:  200 * time.Millisecond,
		RecoverReads: 3,
		StaleAfter:   time.Second,
	}
}

// Validate checks the telemetry settings.
func (o *ObdOptions) Validate() []error {
	var errs []error

	if o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("--obd.poll-interval must be positive"))
	}
	if o.ReadTimeout <= 0 || o.ReadTimeout > o.PollInterval {
		errs = append(errs, fmt.Errorf("--obd.read-timeout must be positive and not exceed --obd.poll-interval"))
	}
	if o.RecoverReads < 1 {
		errs = append(errs, fmt.Errorf("--obd.recover-reads must be at least 1"))
	}
	if o.Topic == "" {
		errs = append(errs, fmt.Errorf("--obd.topic must not be empty"))
	}

	return errs
}

// AddFlags adds flags for the telemetry pipeline to the specified FlagSet.
func (o *ObdOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Simulation, "obd.simulation", o.Simulation, "Serve synthetic readings only.")
	fs.BoolVar(&o.AllowReal, "obd.allow-real", o.AllowReal, "In maintenance mode, prefer the live feed over --obd.simulation.")
	fs.StringVar(&o.Topic, "obd.topic", o.Topic, "MQTT topic segment of the OBD bridge samples.")
	fs.DurationVar(&o.PollInterval, "obd.poll-interval", o.PollInterval, "Telemetry sampling cadence.")
	fs.DurationVar(&o.ReadTimeout, "obd.read-timeout", o.ReadTimeout, "Timeout of a single live read.")
	fs.IntVar(&o.RecoverReads, "obd.recover-reads", o.RecoverReads, "Consecutive live reads required to leave the simulated fallback.")
	fs.DurationVar(&o.StaleAfter, "obd.stale-after", o.StaleAfter, "Maximum age of a buffered live sample.")
}
