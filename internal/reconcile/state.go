// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"errors"
	"fmt"
)

const (
	// StateIdle is the state before the first pass.
	StateIdle State = iota
	// StateResolving is a pass resolving metadata and assembling the binding.
	StateResolving
	// StateBound means the supervised command runs with the current binding.
	StateBound
	// StateAwaitingRestart is a pass acquiring credentials and replacing the
	// process.
	StateAwaitingRestart
)

// ErrInvalidState is returned when a State value is not a defined state.
var ErrInvalidState = errors.New("invalid state")

type (
	// State is the reconciler's position in a bind session.
	State int32

	// InvalidStateError wraps ErrInvalidState.
	InvalidStateError struct {
		Value State
	}
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateBound:
		return "bound"
	case StateAwaitingRestart:
		return "awaiting-restart"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state %d (valid: 0=idle, 1=resolving, 2=bound, 3=awaiting-restart)", e.Value)
}

// Unwrap returns ErrInvalidState for errors.Is.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// Validate returns nil for a defined state.
func (s State) Validate() error {
	switch s {
	case StateIdle, StateResolving, StateBound, StateAwaitingRestart:
		return nil
	default:
		return &InvalidStateError{Value: s}
	}
}
