// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"log/slog"
	"sync"

	"github.com/echoninelabs/kite/pkg/module"
)

type (
	subscription struct {
		id uint64
		fn module.EventHandler
	}

	// EventBus delivers events to topic subscribers on the executor.
	EventBus struct {
		exec   *Executor
		logger *slog.Logger

		mu     sync.RWMutex
		nextID uint64
		topics map[string][]subscription
	}
)

// NewEventBus returns an empty bus dispatching on exec.
func NewEventBus(exec *Executor, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{exec: exec, logger: logger, topics: make(map[string][]subscription)}
}

// Subscribe adds fn to topic. The returned cancel is idempotent.
func (b *EventBus) Subscribe(topic string, fn module.EventHandler) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

// Publish calls every handler subscribed to ev.Topic, in subscription order,
// on the executor. Handlers cancelled while the event is being delivered do
// not receive it.
func (b *EventBus) Publish(ctx context.Context, ev module.Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.topics[ev.Topic]...)
	b.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	err := b.exec.Do(ctx, func() {
		bound := b.exec.Bind(ctx)
		for _, s := range subs {
			if !b.active(ev.Topic, s.id) {
				continue
			}
			s.fn(bound, ev)
		}
	})
	if err != nil {
		b.logger.Warn("event dropped", "topic", ev.Topic, "error", err)
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (b *EventBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *EventBus) active(topic string, id uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.topics[topic] {
		if s.id == id {
			return true
		}
	}
	return false
}

func (b *EventBus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, topic)
		return
	}
	b.topics[topic] = subs
}
