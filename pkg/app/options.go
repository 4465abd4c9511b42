package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions is implemented by the root options of a command.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section for help output.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields that were not set from flags or config.
	Complete() error

	// Validate checks the completed options.
	Validate() error
}
