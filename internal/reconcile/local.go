// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/subosito/gotenv"
)

// LocalConfig is the locally declared environment used in script mode.
type LocalConfig struct {
	// Env holds literal variables.
	Env map[string]string
	// EnvFiles are dotenv files resolved against BaseDir and applied in
	// order after Env. A "?" suffix marks a file optional.
	EnvFiles []string
	BaseDir  string
}

// Load merges Env with every env file. Later files win.
func (c LocalConfig) Load() (map[string]string, error) {
	env := maps.Clone(c.Env)
	if env == nil {
		env = map[string]string{}
	}
	for _, path := range c.EnvFiles {
		if err := loadEnvFile(env, path, c.BaseDir); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func loadEnvFile(env map[string]string, path, baseDir string) error {
	path, optional := strings.CutSuffix(path, "?")

	fullPath := filepath.FromSlash(path)
	if !filepath.IsAbs(fullPath) {
		fullPath = filepath.Join(baseDir, fullPath)
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %q: %w", path, err)
	}

	parsed, err := gotenv.StrictParse(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("parse env file %q: %w", path, err)
	}
	maps.Copy(env, parsed)
	return nil
}
