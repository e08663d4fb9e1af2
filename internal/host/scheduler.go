// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/echoninelabs/kite/pkg/module"
)

type (
	// Scheduler runs delayed and repeating callbacks on the executor.
	Scheduler struct {
		exec   *Executor
		logger *slog.Logger

		mu     sync.Mutex
		nextID uint64
		timers map[uint64]*timer
	}

	timer struct {
		s        *Scheduler
		id       uint64
		interval time.Duration
		fn       module.TimerFunc

		mu        sync.Mutex
		t         *time.Timer
		cancelled bool
	}
)

// NewScheduler returns a scheduler dispatching on exec.
func NewScheduler(exec *Executor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{exec: exec, logger: logger, timers: make(map[uint64]*timer)}
}

// Schedule runs fn after delay and then every interval when interval > 0.
// Cancel is safe to call from any goroutine, including from inside fn, and
// guarantees fn is not started afterwards.
func (s *Scheduler) Schedule(delay, interval time.Duration, fn module.TimerFunc) (cancel func()) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	s.nextID++
	tm := &timer{s: s, id: s.nextID, interval: interval, fn: fn}
	s.timers[tm.id] = tm
	s.mu.Unlock()

	tm.mu.Lock()
	tm.t = time.AfterFunc(delay, tm.fire)
	tm.mu.Unlock()
	return tm.cancel
}

// Pending returns the number of timers that may still fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels every timer.
func (s *Scheduler) Close() {
	s.mu.Lock()
	timers := make([]*timer, 0, len(s.timers))
	for _, tm := range s.timers {
		timers = append(timers, tm)
	}
	s.mu.Unlock()
	for _, tm := range timers {
		tm.cancel()
	}
}

func (s *Scheduler) forget(id uint64) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()
}

func (tm *timer) cancel() {
	tm.mu.Lock()
	tm.cancelled = true
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.mu.Unlock()
	tm.s.forget(tm.id)
}

func (tm *timer) fire() {
	if tm.isCancelled() {
		return
	}
	if tm.interval <= 0 {
		// one-shot timers are done once they fire
		tm.s.forget(tm.id)
	}
	ctx := context.Background()
	err := tm.s.exec.Do(ctx, func() {
		if tm.isCancelled() {
			return
		}
		tm.fn(tm.s.exec.Bind(ctx))
	})
	if err != nil {
		tm.s.logger.Debug("timer callback skipped", "error", err)
		return
	}
	if tm.interval > 0 {
		tm.mu.Lock()
		if !tm.cancelled {
			tm.t.Reset(tm.interval)
		}
		tm.mu.Unlock()
	}
}

func (tm *timer) isCancelled() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.cancelled
}
