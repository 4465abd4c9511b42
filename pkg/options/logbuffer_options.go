package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*LogBufferOptions)(nil)

// LogBufferOptions configures the in-memory log ring served to the dashboard.
type LogBufferOptions struct {
	// Capacity is the number of entries kept before the oldest is evicted.
	Capacity int `json:"capacity" mapstructure:"capacity"`
}

// NewLogBufferOptions returns the default ring size.
func NewLogBufferOptions() *LogBufferOptions {
	return &LogBufferOptions{Capacity: 500}
}

// Validate checks the ring size.
func (o *LogBufferOptions) Validate() []error {
	if o.Capacity < 1 {
		return []error{fmt.Errorf("--logbuffer.capacity must be at least 1, got %d", o.Capacity)}
	}
	return nil
}

// AddFlags adds flags for the log ring to the specified FlagSet.
func (o *LogBufferOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.Capacity, "logbuffer.capacity", o.Capacity, "Number of recent log entries kept in memory.")
}
