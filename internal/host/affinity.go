// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sourcegraph/conc/panics"

	"github.com/echoninelabs/kite/internal/core/serverbase"
)

// ErrExecutorClosed is returned by Do once the executor stopped.
var ErrExecutorClosed = errors.New("affinity executor closed")

type (
	affinityKey struct{}

	task struct {
		fn   func()
		done chan struct{}
	}

	// Executor runs submitted functions one at a time on a dedicated
	// goroutine. It implements module.Affinity.
	Executor struct {
		*serverbase.Base
		tasks  chan task
		logger *slog.Logger
	}
)

// NewExecutor returns a stopped executor; call Start before submitting work.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Base:   serverbase.NewBase(serverbase.WithName("affinity executor")),
		tasks:  make(chan task),
		logger: logger,
	}
}

// Start launches the executor goroutine.
func (e *Executor) Start(ctx context.Context) error {
	if err := e.Begin(ctx); err != nil {
		return err
	}
	e.Go(e.loop)
	e.Ready()
	return nil
}

// Stop ends the executor after the running task returns. Submissions that
// were not accepted fail with ErrExecutorClosed.
func (e *Executor) Stop() {
	if e.BeginStop() {
		e.Finish()
	}
}

// Bind marks ctx as running on this executor. Do calls made with the
// returned context run fn inline.
func (e *Executor) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, affinityKey{}, e)
}

// OnExecutor reports whether ctx was bound to e.
func (e *Executor) OnExecutor(ctx context.Context) bool {
	bound, _ := ctx.Value(affinityKey{}).(*Executor)
	return bound == e
}

// Do runs fn on the executor goroutine and waits for it to return. When Do
// returns an error fn has not run and never will. A panic in fn is logged
// and does not stop the executor.
func (e *Executor) Do(ctx context.Context, fn func()) error {
	if e.OnExecutor(ctx) {
		e.run(fn)
		return nil
	}
	if !e.IsRunning() {
		return ErrExecutorClosed
	}

	t := task{fn: fn, done: make(chan struct{})}
	select {
	case e.tasks <- t:
	case <-e.Stopped():
		return ErrExecutorClosed
	case <-e.Context().Done():
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-t.done
	return nil
}

func (e *Executor) loop(ctx context.Context) {
	for {
		select {
		case t := <-e.tasks:
			e.run(t.fn)
			close(t.done)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Executor) run(fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		e.logger.Error("script code panicked", "panic", r.Value, "stack", string(r.Stack))
	}
}
