package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*StreamOptions)(nil)

// StreamOptions configures the push delivery of telemetry readings.
type StreamOptions struct {
	// BufferSize is the per-subscriber queue length. The oldest reading is dropped on overflow.
	BufferSize int `json:"buffer-size" mapstructure:"buffer-size"`

	// HeartbeatInterval is the keepalive period of SSE and WebSocket connections.
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`
}

// NewStreamOptions returns the default stream settings.
func NewStreamOptions() *StreamOptions {
	return &StreamOptions{
		BufferSize:        32,
		HeartbeatInterval: 15 * time.Second,
	}
}

// Validate checks the stream settings.
func (o *StreamOptions) Validate() []error {
	var errs []error

	if o.BufferSize < 1 {
		errs = append(errs, fmt.Errorf("--stream.buffer-size must be at least 1"))
	}
	if o.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("--stream.heartbeat-interval must be positive"))
	}

	return errs
}

// AddFlags adds flags for the stream to the specified FlagSet.
func (o *StreamOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.BufferSize, "stream.buffer-size", o.BufferSize, "Readings buffered per subscriber before the oldest is dropped.")
	fs.DurationVar(&o.HeartbeatInterval, "stream.heartbeat-interval", o.HeartbeatInterval, "Keepalive period of push connections.")
}
