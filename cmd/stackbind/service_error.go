// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/stackbind/stackbind/internal/config"
	"github.com/stackbind/stackbind/internal/issue"
	"github.com/stackbind/stackbind/internal/metadata"
)

// issueTheme is the glamour style used for help pages on stderr.
const issueTheme = "dark"

// ServiceError is a bind failure paired with the help page that explains it.
// IssueID is zero when no page applies.
type ServiceError struct {
	Err     error
	IssueID issue.Id
}

// newServiceError wraps err, which must not be nil.
func newServiceError(err error, issueID issue.Id) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{Err: err, IssueID: issueID}
}

func (e *ServiceError) Error() string { return e.Err.Error() }

func (e *ServiceError) Unwrap() error { return e.Err }

// render writes the error line and then the help page, if any.
func (e *ServiceError) render(w io.Writer, verbose bool) {
	fmt.Fprintln(w, ErrorStyle.Render("Error:")+" "+formatErrorForDisplay(e.Err, verbose))
	if e.IssueID == 0 {
		return
	}
	page := issue.Get(e.IssueID)
	if page == nil {
		return
	}
	rendered, err := page.Render(issueTheme)
	if err != nil {
		slog.Warn("failed to render help page", "issue", e.IssueID, "error", err)
		return
	}
	fmt.Fprint(w, rendered)
}

// sessionError attaches the app, stage and site record to a session failure.
// Errors that already carry context are returned as is.
func sessionError(err error, cfg *config.Config) error {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return err
	}

	ec := issue.NewErrorContext().
		WithOperation("bind site").
		WithSession(cfg.App, cfg.Stage).
		Wrap(err)

	var outdated *metadata.OutdatedError
	if errors.As(err, &outdated) {
		ec.WithSite(outdated.Stack, outdated.ID).
			WithSuggestion("Redeploy stage " + cfg.Stage + " so the record carries " + outdated.Field)
	}
	return ec.BuildError()
}
