// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Base carries the lifecycle of one component. Concrete components embed it
// and call the transition helpers from their Start and Stop methods.
type Base struct {
	name  string
	state atomic.Int32

	mu      sync.Mutex
	lastErr error

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedCh chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
	errCh     chan error
}

// NewBase creates a Base in the created state.
func NewBase(opts ...Option) *Base {
	b := &Base{
		startedCh: make(chan struct{}),
		stoppedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	b.state.Store(int32(StateCreated))
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state without locking.
func (b *Base) State() State {
	return State(b.state.Load())
}

// IsRunning reports whether the component is running.
func (b *Base) IsRunning() bool {
	return b.State() == StateRunning
}

// Err delivers asynchronous failures.
func (b *Base) Err() <-chan error {
	return b.errCh
}

// LastError returns the error that moved the component to failed.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Context is cancelled when stopping begins. It is nil before Begin.
func (b *Base) Context() context.Context {
	return b.ctx
}

// Started is closed once the component is running.
func (b *Base) Started() <-chan struct{} {
	return b.startedCh
}

// Stopped is closed once the component reached a terminal state.
func (b *Base) Stopped() <-chan struct{} {
	return b.stoppedCh
}

// Begin moves created -> starting. A ctx that is already done fails the
// component before any setup runs.
func (b *Base) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("context done before start: %w", err)
		b.Fail(err)
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.State() != StateCreated {
		return &TransitionError{Component: b.name, From: b.State(), To: StateStarting}
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.state.Store(int32(StateStarting))
	return nil
}

// Ready moves starting -> running and releases WaitReady callers.
func (b *Base) Ready() {
	if b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(b.startedCh)
	}
}

// Fail records err and moves the component to failed.
func (b *Base) Fail(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()

	b.state.Store(int32(StateFailed))
	if b.cancel != nil {
		b.cancel()
	}
	b.SendError(err)
	b.markStopped()
}

// BeginStop moves starting or running -> stopping and cancels Context.
// It returns false when there is nothing to stop; a component that was
// never started goes straight to stopped.
func (b *Base) BeginStop() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.State() {
	case StateCreated:
		b.state.Store(int32(StateStopped))
		b.markStopped()
		return false
	case StateStarting, StateRunning:
		b.state.Store(int32(StateStopping))
		b.cancel()
		return true
	default:
		return false
	}
}

// Finish waits for tracked goroutines and moves the component to stopped.
func (b *Base) Finish() {
	b.wg.Wait()
	if b.State() != StateFailed {
		b.state.Store(int32(StateStopped))
	}
	b.markStopped()
}

// WaitReady blocks until the component is running, failed, or ctx is done.
func (b *Base) WaitReady(ctx context.Context) error {
	select {
	case <-b.startedCh:
		return nil
	case <-b.stoppedCh:
		if err := b.LastError(); err != nil {
			return err
		}
		return ErrNotRunning
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", b.label(), ctx.Err())
	}
}

// Go runs fn on a tracked goroutine with the component context.
func (b *Base) Go(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

// SendError publishes err without blocking; it is dropped when the channel
// is full.
func (b *Base) SendError(err error) {
	select {
	case b.errCh <- err:
	default:
	}
}

func (b *Base) markStopped() {
	b.stopOnce.Do(func() { close(b.stoppedCh) })
}

func (b *Base) label() string {
	if b.name == "" {
		return "component"
	}
	return b.name
}
