// Copyright 2025 The Autopeer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	// Name prefixes every logger name, e.g. "vandash-agent.obd".
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is one of debug, info, warn or error. It can be changed at
	// runtime through the config file.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format is console or json.
	Format      string `json:"format,omitempty" mapstructure:"format"`
	EnableColor bool   `json:"enable-color,omitempty" mapstructure:"enable-color"`

	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`
	// CallerSkip is 2 for calls through this package.
	CallerSkip int `json:"caller-skip,omitempty" mapstructure:"caller-skip"`

	// SamplingInitial and SamplingThereafter rate-limit identical messages on
	// the configured outputs per second: the first SamplingInitial are kept,
	// then every SamplingThereafter-th. Zero disables sampling. The in-memory
	// log ring is never sampled.
	SamplingInitial    int `json:"sampling-initial,omitempty" mapstructure:"sampling-initial"`
	SamplingThereafter int `json:"sampling-thereafter,omitempty" mapstructure:"sampling-thereafter"`

	// OutputPaths are files, "stdout" or "stderr".
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

// NewOptions returns console logging at info level on stdout.
func NewOptions() *Options {
	return &Options{
		Level:              "info",
		Format:             "console",
		EnableColor:        true,
		CallerSkip:         2,
		SamplingInitial:    100,
		SamplingThereafter: 100,
		OutputPaths:        []string{"stdout"},
	}
}

// Validate checks the level, format and sampling settings.
func (o *Options) Validate() []error {
	var errs []error

	var l zapcore.Level
	if err := l.UnmarshalText([]byte(o.Level)); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", o.Level))
	}

	if o.Format != "console" && o.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q, must be 'console' or 'json'", o.Format))
	}

	if o.SamplingInitial < 0 || o.SamplingThereafter < 0 {
		errs = append(errs, fmt.Errorf("log sampling values must not be negative"))
	}

	return errs
}

// AddFlags registers the log.* flags.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "Prefix of every logger name.")
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum level: debug, info, warn or error. Reloaded live from the config file.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Output format, console or json.")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Colorize levels in console format.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit the caller file and line.")
	fs.IntVar(&o.CallerSkip, "log.caller-skip", o.CallerSkip, "Number of caller frames to skip.")
	fs.IntVar(&o.SamplingInitial, "log.sampling-initial", o.SamplingInitial, "Identical messages logged per second before sampling starts. 0 disables sampling.")
	fs.IntVar(&o.SamplingThereafter, "log.sampling-thereafter", o.SamplingThereafter, "Once sampling, keep every Nth identical message.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Log outputs, e.g. stdout or /var/log/vandash/agent.log.")
}
