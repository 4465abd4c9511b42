package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SupervisionOptions)(nil)

// SupervisionOptions tunes the health supervisor: the automatic restart
// budget and the heartbeat timing of the watchdogs.
type SupervisionOptions struct {
	// MaxRetries is the number of automatic restart attempts before a subsystem is FAULTY.
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// GracePeriod is how long a subsystem may stay silent before a heartbeat counts as missed.
	GracePeriod time.Duration `json:"grace-period" mapstructure:"grace-period"`

	// Backoff is the linear step added to the grace period for each restart attempt.
	Backoff time.Duration `json:"backoff" mapstructure:"backoff"`

	// MaxBackoff caps the wait between two restart attempts.
	MaxBackoff time.Duration `json:"max-backoff" mapstructure:"max-backoff"`

	// CheckInterval is the tick of the watchdog loops.
	CheckInterval time.Duration `json:"check-interval" mapstructure:"check-interval"`
}

// NewSupervisionOptions returns the defaults used on the vehicle.
func NewSupervisionOptions() *SupervisionOptions {
	return &SupervisionOptions{
		MaxRetries:    3,
		GracePeriod:   5 * time.Second,
		Backoff:       5 * time.Second,
		MaxBackoff:    30 * time.Second,
		CheckInterval: time.Second,
	}
}

// Validate checks the supervision settings.
func (o *SupervisionOptions) Validate() []error {
	var errs []error

	if o.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("--supervision.max-retries must be at least 1, got %d", o.MaxRetries))
	}
	if o.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("--supervision.grace-period must be positive"))
	}
	if o.Backoff < 0 {
		errs = append(errs, fmt.Errorf("--supervision.backoff must not be negative"))
	}
	if o.MaxBackoff < o.GracePeriod {
		errs = append(errs, fmt.Errorf("--supervision.max-backoff (%s) must not be shorter than the grace period (%s)", o.MaxBackoff, o.GracePeriod))
	}
	if o.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("--supervision.check-interval must be positive"))
	}

	return errs
}

// AddFlags adds flags for the supervisor to the specified FlagSet.
func (o *SupervisionOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.MaxRetries, "supervision.max-retries", o.MaxRetries, "Automatic restart attempts before a subsystem is marked FAULTY.")
	fs.DurationVar(&o.GracePeriod, "supervision.grace-period", o.GracePeriod, "Silence tolerated before a heartbeat counts as missed.")
	fs.DurationVar(&o.Backoff, "supervision.backoff", o.Backoff, "Linear backoff step between automatic restart attempts.")
	fs.DurationVar(&o.MaxBackoff, "supervision.max-backoff", o.MaxBackoff, "Upper bound of the restart backoff.")
	fs.DurationVar(&o.CheckInterval, "supervision.check-interval", o.CheckInterval, "Tick of the per-subsystem watchdogs.")
}
