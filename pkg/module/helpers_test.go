// SPDX-License-Identifier: MPL-2.0

package module

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type (
	countingAffinity struct {
		calls atomic.Int32
		fail  bool
	}

	fakeHost struct {
		affinity *countingAffinity

		mu          sync.Mutex
		subscribers map[string]int
		commands    map[string]CommandFunc
		timers      atomic.Int32
	}
)

func (a *countingAffinity) Do(_ context.Context, fn func()) error {
	if a.fail {
		return errors.New("affinity stopped")
	}
	a.calls.Add(1)
	fn()
	return nil
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		affinity:    &countingAffinity{},
		subscribers: make(map[string]int),
		commands:    make(map[string]CommandFunc),
	}
}

func (h *fakeHost) Subscribe(topic string, _ EventHandler) func() {
	h.mu.Lock()
	h.subscribers[topic]++
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.subscribers[topic]--
		h.mu.Unlock()
	}
}

func (h *fakeHost) Publish(context.Context, Event) {}

func (h *fakeHost) Schedule(delay, interval time.Duration, fn TimerFunc) func() {
	h.timers.Add(1)
	var (
		mu      sync.Mutex
		stopped bool
		t       *time.Timer
	)
	mu.Lock()
	defer mu.Unlock()
	t = time.AfterFunc(delay, func() {
		fn(context.Background())
		mu.Lock()
		defer mu.Unlock()
		if interval > 0 && !stopped {
			t.Reset(interval)
		}
	})
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			stopped = true
			t.Stop()
			h.timers.Add(-1)
		}
	}
}

func (h *fakeHost) RegisterCommand(name string, fn CommandFunc) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.commands[name]; ok {
		return nil, errors.New("duplicate command")
	}
	h.commands[name] = fn
	return func() {
		h.mu.Lock()
		delete(h.commands, name)
		h.mu.Unlock()
	}, nil
}

func (h *fakeHost) Affinity() Affinity { return h.affinity }

func (h *fakeHost) subscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribers[topic]
}

func (h *fakeHost) commandCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.commands)
}
