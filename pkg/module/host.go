// SPDX-License-Identifier: MPL-2.0

package module

import (
	"context"
	"time"
)

type (
	// Event is a message published on the host event bus.
	Event struct {
		Topic string
		Args  []string
	}

	// EventHandler receives published events.
	EventHandler func(ctx context.Context, ev Event)

	// TimerFunc is a scheduled callback. ctx is bound to the affinity
	// executor it runs on.
	TimerFunc func(ctx context.Context)

	// CommandFunc handles an invocation of a registered command and returns
	// its output.
	CommandFunc func(ctx context.Context, args []string) (string, error)

	// Affinity runs functions on a single designated goroutine. Do blocks
	// until fn has run. When Do returns an error, fn has not run and never
	// will.
	Affinity interface {
		Do(ctx context.Context, fn func()) error
	}

	// Host is the set of resource providers a script can acquire from. Every
	// acquisition returns a cancel function that releases the resource.
	Host interface {
		// Subscribe adds a handler for topic.
		Subscribe(topic string, fn EventHandler) (cancel func())
		// Publish delivers ev to every handler subscribed to its topic.
		Publish(ctx context.Context, ev Event)
		// Schedule runs fn after delay, then every interval when interval > 0.
		Schedule(delay, interval time.Duration, fn TimerFunc) (cancel func())
		// RegisterCommand adds a named command. Names are unique host-wide.
		RegisterCommand(name string, fn CommandFunc) (unregister func(), err error)
		// Affinity returns the executor for non thread-safe revocations.
		Affinity() Affinity
	}
)
