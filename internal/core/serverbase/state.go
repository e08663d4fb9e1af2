// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"errors"
	"fmt"
)

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	// StateStopped is terminal.
	StateStopped
	// StateFailed is terminal.
	StateFailed
)

var (
	// ErrInvalidState is the sentinel wrapped by InvalidStateError.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotRunning is returned by components asked to work outside the
	// running state.
	ErrNotRunning = errors.New("not running")
)

type (
	// State is a lifecycle state.
	State int32

	// InvalidStateError is returned by State.Validate.
	InvalidStateError struct {
		Value State
	}

	// TransitionError reports a transition attempted from the wrong state.
	TransitionError struct {
		Component string
		From      State
		To        State
	}
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Validate returns an InvalidStateError for values outside the lifecycle.
func (s State) Validate() error {
	if s < StateCreated || s > StateFailed {
		return &InvalidStateError{Value: s}
	}
	return nil
}

// IsTerminal reports whether s is stopped or failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid lifecycle state %d", int32(e.Value))
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func (e *TransitionError) Error() string {
	name := e.Component
	if name == "" {
		name = "component"
	}
	return fmt.Sprintf("cannot move %s from %s to %s", name, e.From, e.To)
}
