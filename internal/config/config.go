// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/stackbind/stackbind/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "stackbind"
	// ProjectFileName is the project configuration file.
	ProjectFileName = "stackbind.cue"
	// EnvPrefix prefixes environment variable overrides.
	EnvPrefix = "STACKBIND"

	// DefaultMetadataDir holds local stack files, relative to the project root.
	DefaultMetadataDir = ".stackbind/metadata"
	// DefaultMetadataPrefix is the S3 key prefix of stack files.
	DefaultMetadataPrefix = "stackMetadata/"
	// DefaultChannelPrefix namespaces Redis bus channels.
	DefaultChannelPrefix = "stackbind:"

	maxFileSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// ErrProjectNotFound is returned by FindProjectFile when no project file
// exists at or above the start directory.
var ErrProjectNotFound = errors.New("project file not found")

// FindProjectFile walks up from start and returns the first stackbind.cue.
func FindProjectFile(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}
	for {
		candidate := filepath.Join(dir, ProjectFileName)
		if fileExists(candidate) {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w above %s", ErrProjectNotFound, start)
		}
		dir = parent
	}
}

// MetadataDir returns the absolute local metadata directory.
func (c *Config) MetadataDir() string {
	if filepath.IsAbs(c.Metadata.Dir) {
		return c.Metadata.Dir
	}
	return filepath.Join(c.ProjectRoot, filepath.FromSlash(c.Metadata.Dir))
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		workDir = wd
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolveProjectFile(opts.ConfigFilePath, workDir)
	if err != nil {
		return nil, err
	}

	env := map[string]string{}
	root := workDir
	if path != "" {
		env, err = loadCUEIntoViper(v, path)
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the values match the schema, see 'stackbind help config'").
				Wrap(err).
				BuildError()
		}
		root = filepath.Dir(path)
	}
	if !filepath.IsAbs(root) {
		if root, err = filepath.Abs(root); err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
	}
	v.SetDefault("app", filepath.Base(root))
	opts.Overrides.apply(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Env = env
	cfg.ProjectRoot = root
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Set metadata.bucket when reading metadata from S3").
			WithSuggestion("Set bus.redis_url when using the redis transport").
			Wrap(err).
			BuildError()
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("stage", d.Stage)
	v.SetDefault("region", d.Region)
	v.SetDefault("profile", d.Profile)
	v.SetDefault("metadata.source", string(d.Metadata.Source))
	v.SetDefault("metadata.dir", d.Metadata.Dir)
	v.SetDefault("metadata.bucket", d.Metadata.Bucket)
	v.SetDefault("metadata.prefix", d.Metadata.Prefix)
	v.SetDefault("metadata.endpoint", d.Metadata.Endpoint)
	v.SetDefault("bus.transport", string(d.Bus.Transport))
	v.SetDefault("bus.redis_url", d.Bus.RedisURL)
	v.SetDefault("bus.channel_prefix", d.Bus.ChannelPrefix)
	v.SetDefault("env_files", []string{})
	v.SetDefault("ui.verbose", d.UI.Verbose)
}

// resolveProjectFile returns the explicit file, the discovered one, or ""
// when there is none.
func resolveProjectFile(explicit, workDir string) (string, error) {
	if explicit != "" {
		if !fileExists(explicit) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(explicit).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				Wrap(fmt.Errorf("config file not found: %s", explicit)).
				BuildError()
		}
		return filepath.Abs(explicit)
	}
	path, err := FindProjectFile(workDir)
	if errors.Is(err, ErrProjectNotFound) {
		return "", nil
	}
	return path, err
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config
// schema and merges it into Viper. The env map is returned separately
// because Viper lowercases map keys.
func loadCUEIntoViper(v *viper.Viper, path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := checkFileSize(data, maxFileSize, path); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return nil, fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return nil, formatError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return nil, formatError(err, path)
	}

	env := map[string]string{}
	if envValue := unified.LookupPath(cue.ParsePath("env")); envValue.Exists() {
		if err := envValue.Decode(&env); err != nil {
			return nil, formatError(err, path)
		}
	}
	delete(configMap, "env")

	if err := v.MergeConfigMap(configMap); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	return env, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
