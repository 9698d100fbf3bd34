// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/stackbind/stackbind/internal/config"
)

type (
	// App wires CLI services and shared dependencies. Cobra handlers receive
	// an App reference and delegate through its service interfaces.
	App struct {
		Config   ConfigProvider
		Sessions SessionRunner
		stdin    io.Reader
		stdout   io.Writer
		stderr   io.Writer
		workDir  string
		logging  func(w io.Writer, verbose bool)
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config   ConfigProvider
		Sessions SessionRunner
		Stdin    io.Reader
		Stdout   io.Writer
		Stderr   io.Writer
		// WorkDir is the bound directory; empty means the working directory.
		WorkDir string
		// Logging installs the process-wide logger.
		Logging func(w io.Writer, verbose bool)
	}

	// BindRequest captures the inputs of one bind session.
	BindRequest struct {
		// Argv is the command to supervise.
		Argv []string
		// Script forces script mode.
		Script bool
		// Dir is the directory whose site is bound.
		Dir    string
		Config *config.Config
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// SessionRunner runs a bind session to completion and returns the exit
	// code of the supervised command.
	SessionRunner interface {
		Run(ctx context.Context, req BindRequest) (int, error)
	}
)

// NewApp creates an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:   deps.Config,
		Sessions: deps.Sessions,
		stdin:    deps.Stdin,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
		workDir:  deps.WorkDir,
		logging:  deps.Logging,
	}
	if app.stdin == nil {
		app.stdin = os.Stdin
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.Sessions == nil {
		app.Sessions = &bindSession{stdin: app.stdin, stdout: app.stdout, stderr: app.stderr}
	}
	if app.logging == nil {
		app.logging = installLogger
	}
	return app
}
