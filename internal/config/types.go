// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
)

const (
	// MetadataSourceDir reads stack files from a local directory.
	MetadataSourceDir MetadataSource = "dir"
	// MetadataSourceS3 reads stack files from an S3 bucket.
	MetadataSourceS3 MetadataSource = "s3"

	// BusTransportWatch watches the metadata directory for changes.
	BusTransportWatch BusTransport = "watch"
	// BusTransportRedis subscribes to Redis channels.
	BusTransportRedis BusTransport = "redis"
	// BusTransportNone disables change notifications.
	BusTransportNone BusTransport = "none"
)

var (
	// ErrInvalidMetadataSource is returned for an unknown metadata source.
	ErrInvalidMetadataSource = errors.New("invalid metadata source")
	// ErrInvalidBusTransport is returned for an unknown bus transport.
	ErrInvalidBusTransport = errors.New("invalid bus transport")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// MetadataSource selects where deployment metadata is read from.
	MetadataSource string

	// BusTransport selects how change notifications reach the session.
	BusTransport string

	// Config is the project configuration.
	Config struct {
		App      string            `json:"app" mapstructure:"app"`
		Stage    string            `json:"stage" mapstructure:"stage"`
		Region   string            `json:"region" mapstructure:"region"`
		Profile  string            `json:"profile" mapstructure:"profile"`
		Metadata MetadataConfig    `json:"metadata" mapstructure:"metadata"`
		Bus      BusConfig         `json:"bus" mapstructure:"bus"`
		Env      map[string]string `json:"env" mapstructure:"-"`
		EnvFiles []string          `json:"env_files" mapstructure:"env_files"`
		UI       UIConfig          `json:"ui" mapstructure:"ui"`

		// ProjectRoot is the directory holding the project file, or the
		// working directory when there is none.
		ProjectRoot string `json:"-" mapstructure:"-"`
		// Path is the loaded project file; empty when defaults were used.
		Path string `json:"-" mapstructure:"-"`
	}

	// MetadataConfig configures the metadata source.
	MetadataConfig struct {
		Source MetadataSource `json:"source" mapstructure:"source"`
		// Dir is relative to the project root unless absolute.
		Dir      string `json:"dir" mapstructure:"dir"`
		Bucket   string `json:"bucket" mapstructure:"bucket"`
		Prefix   string `json:"prefix" mapstructure:"prefix"`
		Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	}

	// BusConfig configures change notifications.
	BusConfig struct {
		Transport     BusTransport `json:"transport" mapstructure:"transport"`
		RedisURL      string       `json:"redis_url" mapstructure:"redis_url"`
		ChannelPrefix string       `json:"channel_prefix" mapstructure:"channel_prefix"`
	}

	// UIConfig configures terminal output.
	UIConfig struct {
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}

	// InvalidConfigError collects every problem found by Config.Validate.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() *Config {
	return &Config{
		Stage: "dev",
		Metadata: MetadataConfig{
			Source: MetadataSourceDir,
			Dir:    DefaultMetadataDir,
			Prefix: DefaultMetadataPrefix,
		},
		Bus: BusConfig{
			Transport:     BusTransportWatch,
			ChannelPrefix: DefaultChannelPrefix,
		},
		Env: map[string]string{},
	}
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Metadata.Source.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Bus.Transport.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Metadata.Source == MetadataSourceS3 && c.Metadata.Bucket == "" {
		errs = append(errs, errors.New("metadata.bucket is required when metadata.source is \"s3\""))
	}
	if c.Bus.Transport == BusTransportRedis && c.Bus.RedisURL == "" {
		errs = append(errs, errors.New("bus.redis_url is required when bus.transport is \"redis\""))
	}
	if c.Bus.Transport == BusTransportWatch && c.Metadata.Source != MetadataSourceDir {
		errs = append(errs, errors.New("bus.transport \"watch\" requires metadata.source \"dir\""))
	}
	if c.App == "" {
		errs = append(errs, errors.New("app is empty"))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Validate returns nil for a known source.
func (s MetadataSource) Validate() error {
	switch s {
	case MetadataSourceDir, MetadataSourceS3:
		return nil
	default:
		return fmt.Errorf("%w %q (valid: dir, s3)", ErrInvalidMetadataSource, string(s))
	}
}

// Validate returns nil for a known transport.
func (t BusTransport) Validate() error {
	switch t {
	case BusTransportWatch, BusTransportRedis, BusTransportNone:
		return nil
	default:
		return fmt.Errorf("%w %q (valid: watch, redis, none)", ErrInvalidBusTransport, string(t))
	}
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig and every field error.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
