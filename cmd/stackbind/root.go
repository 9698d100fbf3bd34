// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/stackbind/stackbind/internal/config"
	"github.com/stackbind/stackbind/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// rootFlags holds the persistent flags shared by every subcommand.
type rootFlags struct {
	stage      string
	region     string
	profile    string
	configPath string
	verbose    bool
}

// overrides converts the flags into config overrides.
func (f *rootFlags) overrides() config.Overrides {
	return config.Overrides{
		Stage:   f.stage,
		Region:  f.region,
		Profile: f.profile,
		Verbose: f.verbose,
	}
}

func newRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   config.AppName,
		Short: "Bind local dev commands to their deployed cloud resources",
		Long: TitleStyle.Render("stackbind") + SubtitleStyle.Render(" - Bind local dev commands to their deployed cloud resources") + `

stackbind runs your local dev server with the environment and credentials of
the site resource deployed from the current directory. It restarts the server
when the deployment changes, when a bound secret is rotated, and before the
assumed role credentials expire.

` + SubtitleStyle.Render("Examples:") + `
  stackbind bind -- npm run dev          Bind the dev server of this site
  stackbind bind --stage alice -- next   Bind to a personal stage
  stackbind bind --script -- node seed.js  Run once with ambient credentials`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.stage, "stage", "", "deployment stage to bind to (default from stackbind.cue, else \"dev\")")
	pf.StringVar(&flags.region, "region", "", "cloud region (default from stackbind.cue or the local AWS config)")
	pf.StringVar(&flags.profile, "profile", "", "AWS shared config profile")
	pf.StringVar(&flags.configPath, "config", "", "project file (default is the nearest stackbind.cue above the working directory)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newBindCommand(app, flags))
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})

	// Interrupts cancel the command context, which tears the session down.
	if err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
		fang.WithErrorHandler(handleError),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// handleError prints errors the commands did not render themselves.
func handleError(w io.Writer, _ fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fmt.Fprintln(w, ErrorStyle.Render("Error:")+" "+formatErrorForDisplay(err, false))
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
