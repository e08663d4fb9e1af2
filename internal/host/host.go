// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"log/slog"
	"time"

	"github.com/echoninelabs/kite/pkg/module"
)

// Host bundles the providers and implements module.Host.
type Host struct {
	exec      *Executor
	bus       *EventBus
	scheduler *Scheduler
	commands  *CommandRegistry
}

// New wires the providers to a fresh executor.
func New(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	exec := NewExecutor(logger)
	return &Host{
		exec:      exec,
		bus:       NewEventBus(exec, logger),
		scheduler: NewScheduler(exec, logger),
		commands:  NewCommandRegistry(exec),
	}
}

// Start launches the executor.
func (h *Host) Start(ctx context.Context) error {
	return h.exec.Start(ctx)
}

// Close cancels every timer and stops the executor. Scripts should be
// unloaded first so their unload hooks can still run on the executor.
func (h *Host) Close() {
	h.scheduler.Close()
	h.exec.Stop()
}

func (h *Host) Subscribe(topic string, fn module.EventHandler) (cancel func()) {
	return h.bus.Subscribe(topic, fn)
}

func (h *Host) Publish(ctx context.Context, ev module.Event) {
	h.bus.Publish(ctx, ev)
}

func (h *Host) Schedule(delay, interval time.Duration, fn module.TimerFunc) (cancel func()) {
	return h.scheduler.Schedule(delay, interval, fn)
}

func (h *Host) RegisterCommand(name string, fn module.CommandFunc) (unregister func(), err error) {
	return h.commands.RegisterCommand(name, fn)
}

func (h *Host) Affinity() module.Affinity { return h.exec }

// Executor returns the affinity executor.
func (h *Host) Executor() *Executor { return h.exec }

// Bus returns the event bus.
func (h *Host) Bus() *EventBus { return h.bus }

// Scheduler returns the timer scheduler.
func (h *Host) Scheduler() *Scheduler { return h.scheduler }

// Commands returns the command registry.
func (h *Host) Commands() *CommandRegistry { return h.commands }

var _ module.Host = (*Host)(nil)
