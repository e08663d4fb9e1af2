// SPDX-License-Identifier: MPL-2.0

// Package host provides the resource providers scripts acquire from: an
// event bus, a timer scheduler and a command registry, together with the
// affinity executor that serializes every call into script code.
//
// Script code is not safe for concurrent use, so event handlers, timer
// callbacks and commands are all dispatched onto the executor goroutine.
// Code already running there may call back into the host through a context
// obtained from Executor.Bind without deadlocking.
package host
