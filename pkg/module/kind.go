// SPDX-License-Identifier: MPL-2.0

package module

import (
	"errors"
	"fmt"
)

const (
	// KindTimer is a one-shot or repeating timer.
	KindTimer Kind = "timer"
	// KindEventSubscription is a listener on the host event bus.
	KindEventSubscription Kind = "event_subscription"
	// KindCommand is a command registered with the host.
	KindCommand Kind = "command"
)

// ErrInvalidKind is the sentinel wrapped by InvalidKindError.
var ErrInvalidKind = errors.New("invalid resource kind")

type (
	// Kind tags a ledger entry with the host capability it came from.
	Kind string

	// InvalidKindError is returned when a Kind is not one of the known values.
	InvalidKindError struct {
		Value Kind
	}
)

func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("invalid resource kind %q (valid: timer, event_subscription, command)", e.Value)
}

func (e *InvalidKindError) Unwrap() error { return ErrInvalidKind }

func (k Kind) String() string { return string(k) }

// Validate returns an *InvalidKindError for unknown kinds.
func (k Kind) Validate() error {
	switch k {
	case KindTimer, KindEventSubscription, KindCommand:
		return nil
	default:
		return &InvalidKindError{Value: k}
	}
}

// ThreadSafe reports whether resources of this kind may be revoked from any
// goroutine. Event bus and command registry mutations must run on the
// host's affinity executor.
func (k Kind) ThreadSafe() bool {
	return k == KindTimer
}
