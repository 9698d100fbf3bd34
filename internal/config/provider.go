// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"

	"github.com/spf13/viper"
)

type (
	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific project file when set.
		ConfigFilePath string
		// WorkDir is where project file discovery starts. Empty means the
		// working directory.
		WorkDir string
		// Overrides take precedence over the file and the environment.
		Overrides Overrides
	}

	// Overrides are command line values. Empty fields are ignored.
	Overrides struct {
		Stage   string
		Region  string
		Profile string
		Verbose bool
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
	}

	fileProvider struct{}
)

// NewProvider creates a configuration provider.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load reads configuration from the requested source.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	return loadWithOptions(ctx, opts)
}

func (o Overrides) apply(v *viper.Viper) {
	for key, val := range map[string]string{"stage": o.Stage, "region": o.Region, "profile": o.Profile} {
		if val != "" {
			v.Set(key, val)
		}
	}
	if o.Verbose {
		v.Set("ui.verbose", true)
	}
}
