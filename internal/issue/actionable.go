// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ActionableError is a failure of a bind operation with the session and
	// site it concerned, plus hints for the user.
	//
	//	err := issue.NewErrorContext().
	//		WithOperation("resolve site metadata").
	//		WithSession("shop", "dev").
	//		WithSite("web", "Site").
	//		WithSuggestion("Redeploy the stage").
	//		Wrap(cause).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase such as "resolve site metadata".
		Operation string
		// Resource is a file or command involved, if any.
		Resource string
		// App and Stage identify the bind session.
		App   string
		Stage string
		// Stack and ResourceID identify the metadata record involved.
		Stack      string
		ResourceID string

		Suggestions []string
		Cause       error
	}

	// ErrorContext builds an ActionableError.
	ErrorContext struct {
		err ActionableError
	}
)

// NewErrorContext creates a new ErrorContext builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// Error returns a one-line message for default output.
func (e *ActionableError) Error() string {
	var msg strings.Builder

	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)
	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}
	if site := e.Site(); site != "" {
		msg.WriteString(" (site ")
		msg.WriteString(site)
		msg.WriteString(")")
	}
	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}
	return msg.String()
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Site returns "stack/id" for the record involved, or "" when unknown.
func (e *ActionableError) Site() string {
	switch {
	case e.Stack != "" && e.ResourceID != "":
		return e.Stack + "/" + e.ResourceID
	case e.Stack != "":
		return e.Stack
	default:
		return e.ResourceID
	}
}

// Format returns the message, the session it happened in, and the
// suggestions as bullets. verbose appends the error chain.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder

	msg.WriteString(e.Error())

	if e.App != "" || e.Stage != "" {
		msg.WriteString("\n\n  app ")
		msg.WriteString(orUnknown(e.App))
		msg.WriteString(", stage ")
		msg.WriteString(orUnknown(e.Stage))
	}

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n")
		for _, suggestion := range e.Suggestions {
			msg.WriteString("\n  • ")
			msg.WriteString(suggestion)
		}
	}

	if verbose && e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		depth := 1
		for err := e.Cause; err != nil; err = errors.Unwrap(err) {
			fmt.Fprintf(&msg, "\n  %d. %s", depth, err.Error())
			depth++
		}
	}

	return msg.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

// WithOperation sets the operation being performed.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.err.Operation = op
	return c
}

// WithResource sets the file or command involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.err.Resource = res
	return c
}

// WithSession records the app and stage being bound.
func (c *ErrorContext) WithSession(app, stage string) *ErrorContext {
	c.err.App, c.err.Stage = app, stage
	return c
}

// WithSite records the stack and logical id of the metadata record.
func (c *ErrorContext) WithSite(stack, id string) *ErrorContext {
	c.err.Stack, c.err.ResourceID = stack, id
	return c
}

// WithSuggestion adds a hint for fixing the failure.
func (c *ErrorContext) WithSuggestion(sug string) *ErrorContext {
	c.err.Suggestions = append(c.err.Suggestions, sug)
	return c
}

// Wrap sets the underlying cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.err.Cause = err
	return c
}

// Build returns the ActionableError, or nil when no operation was set.
func (c *ErrorContext) Build() *ActionableError {
	if c.err.Operation == "" {
		return nil
	}
	ae := c.err
	ae.Suggestions = append([]string(nil), c.err.Suggestions...)
	return &ae
}

// BuildError is Build returning an error, nil when no operation was set.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}
