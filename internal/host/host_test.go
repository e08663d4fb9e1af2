// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/echoninelabs/kite/pkg/module"
)

func startHost(t *testing.T) *Host {
	t.Helper()
	h := New(nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(h.Close)
	return h
}

func TestExecutor_DoRunsOnExecutor(t *testing.T) {
	t.Parallel()

	h := startHost(t)
	exec := h.Executor()

	var nested bool
	err := exec.Do(context.Background(), func() {
		// a bound context makes nested calls run inline instead of deadlocking
		ctx := exec.Bind(context.Background())
		if err := exec.Do(ctx, func() { nested = true }); err != nil {
			t.Errorf("nested Do() error = %v", err)
		}
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !nested {
		t.Error("nested function did not run")
	}
}

func TestExecutor_PanicDoesNotStopExecutor(t *testing.T) {
	t.Parallel()

	h := startHost(t)
	if err := h.Executor().Do(context.Background(), func() { panic("boom") }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	ran := false
	if err := h.Executor().Do(context.Background(), func() { ran = true }); err != nil || !ran {
		t.Fatalf("Do() after panic: ran=%v err=%v", ran, err)
	}
}

func TestExecutor_ClosedRejects(t *testing.T) {
	t.Parallel()

	exec := NewExecutor(nil)
	ran := false
	if err := exec.Do(context.Background(), func() { ran = true }); !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("Do() before Start error = %v", err)
	}
	if err := exec.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	exec.Stop()
	if err := exec.Do(context.Background(), func() { ran = true }); !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("Do() after Stop error = %v", err)
	}
	if ran {
		t.Error("function ran on a closed executor")
	}
}

func TestEventBus_PublishAndCancel(t *testing.T) {
	t.Parallel()

	h := startHost(t)
	var got []string
	cancelA := h.Subscribe("player.join", func(_ context.Context, ev module.Event) {
		got = append(got, "a:"+ev.Args[0])
	})
	h.Subscribe("player.join", func(_ context.Context, ev module.Event) {
		got = append(got, "b:"+ev.Args[0])
	})

	h.Publish(context.Background(), module.Event{Topic: "player.join", Args: []string{"x"}})
	cancelA()
	cancelA()
	h.Publish(context.Background(), module.Event{Topic: "player.join", Args: []string{"y"}})
	h.Publish(context.Background(), module.Event{Topic: "other"})

	want := []string{"a:x", "b:x", "b:y"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if n := h.Bus().Subscribers("player.join"); n != 1 {
		t.Errorf("Subscribers() = %d, want 1", n)
	}
}

func TestEventBus_HandlerCancelledDuringDelivery(t *testing.T) {
	t.Parallel()

	h := startHost(t)
	var cancelB func()
	calledB := false
	h.Subscribe("t", func(context.Context, module.Event) { cancelB() })
	cancelB = h.Subscribe("t", func(context.Context, module.Event) { calledB = true })

	h.Publish(context.Background(), module.Event{Topic: "t"})
	if calledB {
		t.Error("cancelled handler received the event")
	}
}

func TestScheduler_OneShotAndRepeating(t *testing.T) {
	t.Parallel()

	h := startHost(t)
	fired := make(chan struct{}, 1)
	h.Schedule(time.Millisecond, 0, func(context.Context) { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("one-shot timer did not fire")
	}

	var (
		ticks  atomic.Int32
		cancel atomic.Value
	)
	cancel.Store(h.Schedule(10*time.Millisecond, time.Millisecond, func(context.Context) {
		if ticks.Add(1) == 3 {
			cancel.Load().(func())()
		}
	}))
	deadline := time.Now().Add(5 * time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if n := ticks.Load(); n != 3 {
		t.Errorf("ticks = %d, want 3", n)
	}
	if n := h.Scheduler().Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestScheduler_CancelBeforeFire(t *testing.T) {
	t.Parallel()

	h := startHost(t)
	var fired atomic.Bool
	cancel := h.Schedule(50*time.Millisecond, 0, func(context.Context) { fired.Store(true) })
	cancel()
	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
}

func TestCommandRegistry(t *testing.T) {
	t.Parallel()

	h := startHost(t)
	unregister, err := h.RegisterCommand("greet", func(_ context.Context, args []string) (string, error) {
		return "hello " + args[0], nil
	})
	if err != nil {
		t.Fatalf("RegisterCommand() error = %v", err)
	}
	if _, err := h.RegisterCommand("greet", nil); !errors.Is(err, ErrCommandExists) {
		t.Errorf("duplicate RegisterCommand() error = %v", err)
	}
	if _, err := h.RegisterCommand("has space", nil); !errors.Is(err, ErrInvalidCommandName) {
		t.Errorf("RegisterCommand(has space) error = %v", err)
	}

	out, err := h.Commands().Dispatch(context.Background(), "greet", []string{"kite"})
	if err != nil || out != "hello kite" {
		t.Errorf("Dispatch() = %q, %v", out, err)
	}

	unregister()
	if _, err := h.Commands().Dispatch(context.Background(), "greet", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Dispatch() after unregister error = %v", err)
	}
	if names := h.Commands().Names(); len(names) != 0 {
		t.Errorf("Names() = %v", names)
	}
}

func TestHost_ModuleUnloadRevokesEverything(t *testing.T) {
	t.Parallel()

	h := startHost(t)
	m := module.New("greet", "/scripts/greet.kite.sh", h, nil)
	if _, err := m.Subscribe("t", func(context.Context, module.Event) {}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Every(time.Hour, func(context.Context) {}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RegisterCommand("greet", func(context.Context, []string) (string, error) { return "", nil }); err != nil {
		t.Fatal(err)
	}
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := m.Unload(context.Background()); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}

	if n := h.Bus().Subscribers("t"); n != 0 {
		t.Errorf("Subscribers() = %d after unload", n)
	}
	if n := h.Scheduler().Pending(); n != 0 {
		t.Errorf("Pending() = %d after unload", n)
	}
	if names := h.Commands().Names(); len(names) != 0 {
		t.Errorf("Names() = %v after unload", names)
	}
}
