// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackbind/stackbind/internal/config"
	"github.com/stackbind/stackbind/internal/issue"
	"github.com/stackbind/stackbind/internal/metadata"
	"github.com/stackbind/stackbind/internal/supervisor"
)

const (
	// deprecatedAlias is the former name of the bind command.
	deprecatedAlias = "env"

	// interruptedExitCode is returned when the session ends on a signal.
	interruptedExitCode = 130
)

// ErrMissingCommand is returned when bind is invoked without a command.
var ErrMissingCommand = errors.New("no command given")

func newBindCommand(app *App, flags *rootFlags) *cobra.Command {
	var script bool

	bindCmd := &cobra.Command{
		Use:     "bind [flags] [--] <command> [args...]",
		Aliases: []string{deprecatedAlias},
		Short:   "Run a command bound to its deployed site resource",
		Long: `Run a command with the environment, secrets and role credentials of the
site resource deployed from the current directory.

The command is restarted when the deployed metadata changes, when a bound
secret is updated and shortly before the assumed role credentials expire.
Without a deployed site, or with --script, the command runs once with the
environment declared in stackbind.cue and the local credentials.`,
		Example: `  stackbind bind -- npm run dev
  stackbind bind --stage alice -- next dev --port 3001
  stackbind bind --script -- node scripts/seed.js`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runBind(cmd, args, flags, script)
		},
	}

	// Everything after the command belongs to it.
	bindCmd.Flags().SetInterspersed(false)
	bindCmd.Flags().BoolVar(&script, "script", false, "run once with the declared environment and local credentials")

	return bindCmd
}

func (a *App) runBind(cmd *cobra.Command, argv []string, flags *rootFlags, script bool) error {
	ctx := cmd.Context()

	if cmd.CalledAs() == deprecatedAlias {
		fmt.Fprintln(a.stderr, WarningStyle.Render("Deprecated:")+" '"+config.AppName+" "+deprecatedAlias+"' is now "+
			CmdStyle.Render("'"+config.AppName+" bind'")+" and will be removed in a future release")
	}

	if len(argv) == 0 {
		err := issue.NewErrorContext().
			WithOperation("start bind session").
			WithSuggestion("Pass the command to run after the flags, e.g. '" + config.AppName + " bind -- npm run dev'").
			Wrap(ErrMissingCommand).
			BuildError()
		return a.fail(cmd, newServiceError(err, issue.MissingCommandId), flags.verbose)
	}

	cfg, err := a.Config.Load(ctx, config.LoadOptions{
		ConfigFilePath: flags.configPath,
		WorkDir:        a.workDir,
		Overrides:      flags.overrides(),
	})
	if err != nil {
		return a.fail(cmd, newServiceError(err, issue.ConfigLoadFailedId), flags.verbose)
	}
	a.logging(a.stderr, cfg.UI.Verbose)

	dir := a.workDir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
	}

	code, err := a.Sessions.Run(ctx, BindRequest{
		Argv:   argv,
		Script: script,
		Dir:    dir,
		Config: cfg,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		silence(cmd)
		return &ExitError{Code: interruptedExitCode}
	case err != nil:
		return a.fail(cmd, newServiceError(sessionError(err, cfg), issueFor(err)), cfg.UI.Verbose)
	case code != 0:
		silence(cmd)
		return &ExitError{Code: code}
	default:
		return nil
	}
}

// fail renders svcErr and returns an ExitError so the root does not print it
// again.
func (a *App) fail(cmd *cobra.Command, svcErr *ServiceError, verbose bool) error {
	silence(cmd)
	svcErr.render(a.stderr, verbose)
	return &ExitError{Code: 1, Err: svcErr}
}

func silence(cmd *cobra.Command) {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
}

// issueFor picks the help page for a session failure.
func issueFor(err error) issue.Id {
	switch {
	case errors.Is(err, metadata.ErrOutdatedMetadata):
		return issue.OutdatedMetadataId
	case errors.Is(err, errMetadataSource), errors.Is(err, metadata.ErrNotYetAvailable):
		return issue.MetadataSourceId
	case errors.Is(err, supervisor.ErrTermination):
		return issue.ProcessTerminationId
	default:
		return 0
	}
}
