// SPDX-License-Identifier: MPL-2.0

package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	stateCreated state = iota
	stateLoading
	stateLoaded
	stateUnloaded
)

var (
	// ErrAlreadyLoaded is returned by Load on a module that ran its load hooks.
	ErrAlreadyLoaded = errors.New("module already loaded")
	// ErrUnloaded is returned by operations on a module that was unloaded.
	ErrUnloaded = errors.New("module unloaded")
)

type (
	state int

	// Hook is a load or unload callback.
	Hook func(ctx context.Context) error

	// Script is the contract every evaluated script fulfils. OnLoad runs
	// after the module is constructed and before it is registered; OnUnload
	// runs before its resources are revoked.
	Script interface {
		OnLoad(ctx context.Context) error
		OnUnload(ctx context.Context) error
	}

	// Runtime is what a script sees of its own module. Every resource it
	// acquires through Runtime is recorded in the module's ledger.
	Runtime interface {
		Name() string
		Logger() *slog.Logger
		OnLoad(h Hook)
		OnUnload(h Hook)
		Subscribe(topic string, fn EventHandler) (Handle, error)
		Emit(ctx context.Context, ev Event)
		Every(interval time.Duration, fn TimerFunc) (Handle, error)
		After(delay time.Duration, fn TimerFunc) (Handle, error)
		RegisterCommand(name string, fn CommandFunc) (Handle, error)
		Release(ctx context.Context, h Handle) (bool, error)
	}

	// Module is a loaded script: its ledger, hooks and logger.
	Module struct {
		name      string
		entryPath string
		host      Host
		ledger    *Ledger
		logger    *slog.Logger

		mu          sync.Mutex
		state       state
		loadHooks   []Hook
		unloadHooks []Hook
	}
)

// New returns a module bound to host with an empty ledger.
func New(name, entryPath string, host Host, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{
		name:      name,
		entryPath: entryPath,
		host:      host,
		ledger:    NewLedger(host.Affinity()),
		logger:    logger.With("script", name),
	}
}

// Attach registers the script's OnLoad and OnUnload as the first hooks.
func (m *Module) Attach(s Script) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadHooks = append([]Hook{s.OnLoad}, m.loadHooks...)
	m.unloadHooks = append([]Hook{s.OnUnload}, m.unloadHooks...)
}

func (m *Module) Name() string { return m.name }

func (m *Module) EntryPath() string { return m.entryPath }

func (m *Module) Logger() *slog.Logger { return m.logger }

func (m *Module) Ledger() *Ledger { return m.ledger }

// OnLoad appends a load hook. Hooks added after Load completed are ignored.
func (m *Module) OnLoad(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateCreated || m.state == stateLoading {
		m.loadHooks = append(m.loadHooks, h)
	}
}

// OnUnload appends an unload hook.
func (m *Module) OnUnload(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateUnloaded {
		m.unloadHooks = append(m.unloadHooks, h)
	}
}

// Load runs the load hooks in registration order and stops at the first
// failure. A module whose Load failed must still be unloaded to release
// whatever the hooks acquired.
func (m *Module) Load(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case stateLoading, stateLoaded:
		m.mu.Unlock()
		return ErrAlreadyLoaded
	case stateUnloaded:
		m.mu.Unlock()
		return ErrUnloaded
	}
	m.state = stateLoading
	m.mu.Unlock()

	// hooks may append more hooks while running
	for i := 0; ; i++ {
		m.mu.Lock()
		if m.state != stateLoading {
			m.mu.Unlock()
			return ErrUnloaded
		}
		if i >= len(m.loadHooks) {
			m.state = stateLoaded
			m.mu.Unlock()
			return nil
		}
		h := m.loadHooks[i]
		m.mu.Unlock()

		if err := callHook(ctx, h); err != nil {
			return fmt.Errorf("load hook %d of %s: %w", i+1, m.name, err)
		}
	}
}

// Unload runs every unload hook in registration order, then drains the
// ledger. Hook failures are logged and do not prevent the drain. Unload
// runs at most once; later calls return ErrUnloaded.
func (m *Module) Unload(ctx context.Context) error {
	m.mu.Lock()
	if m.state == stateUnloaded {
		m.mu.Unlock()
		return ErrUnloaded
	}
	m.state = stateUnloaded
	hooks := m.unloadHooks
	m.unloadHooks = nil
	m.loadHooks = nil
	m.mu.Unlock()

	var errs []error
	for i, h := range hooks {
		if err := callHook(ctx, h); err != nil {
			m.logger.Warn("unload hook failed", "hook", i+1, "error", err)
			errs = append(errs, fmt.Errorf("unload hook %d: %w", i+1, err))
		}
	}
	if err := m.ledger.Drain(ctx); err != nil {
		m.logger.Warn("resource revocation failed", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Subscribe listens on topic for the lifetime of the module.
func (m *Module) Subscribe(topic string, fn EventHandler) (Handle, error) {
	cancel := m.host.Subscribe(topic, fn)
	return m.track(KindEventSubscription, topic, cancel)
}

// Emit publishes an event on the host bus.
func (m *Module) Emit(ctx context.Context, ev Event) {
	m.host.Publish(ctx, ev)
}

// Every runs fn every interval until released or unloaded.
func (m *Module) Every(interval time.Duration, fn TimerFunc) (Handle, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("timer interval must be positive, got %s", interval)
	}
	cancel := m.host.Schedule(interval, interval, m.guard(fn))
	return m.track(KindTimer, "every "+interval.String(), cancel)
}

// After runs fn once after delay. The entry leaves the ledger when it fires.
func (m *Module) After(delay time.Duration, fn TimerFunc) (Handle, error) {
	var h Handle
	registered := make(chan struct{})
	guarded := m.guard(fn)

	cancel := m.host.Schedule(delay, 0, func(ctx context.Context) {
		<-registered
		// a fired timer is dead; drop it before running fn so a release
		// from inside fn finds nothing to revoke
		if h == 0 || !m.ledger.Remove(h) {
			return
		}
		guarded(ctx)
	})
	handle, err := m.track(KindTimer, "after "+delay.String(), cancel)
	h = handle
	close(registered)
	return handle, err
}

// RegisterCommand exposes a command through the host.
func (m *Module) RegisterCommand(name string, fn CommandFunc) (Handle, error) {
	unregister, err := m.host.RegisterCommand(name, fn)
	if err != nil {
		return 0, fmt.Errorf("register command %q: %w", name, err)
	}
	return m.track(KindCommand, name, unregister)
}

// Release revokes a single resource ahead of unload.
func (m *Module) Release(ctx context.Context, h Handle) (bool, error) {
	return m.ledger.Release(ctx, h)
}

func (m *Module) track(kind Kind, label string, cancel func()) (Handle, error) {
	h, err := m.ledger.Register(kind, label, RevokeFunc(cancel))
	if err != nil {
		cancel()
		return 0, fmt.Errorf("%s %q: %w", kind, label, err)
	}
	return h, nil
}

// guard keeps a panicking callback from taking down the host goroutine.
func (m *Module) guard(fn TimerFunc) TimerFunc {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("script timer panicked", "panic", r)
			}
		}()
		fn(ctx)
	}
}

func callHook(ctx context.Context, h Hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx)
}

var _ Runtime = (*Module)(nil)
