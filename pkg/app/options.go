package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions is implemented by the option struct of every command.
// The struct must carry mapstructure tags so config files can populate it.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped into named sections for the usage output.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields that depend on other fields.
	Complete() error

	// Validate checks the final option values.
	Validate() error
}
