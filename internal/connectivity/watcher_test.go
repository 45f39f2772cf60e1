package connectivity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"slate/internal/connectivity"
	"slate/internal/logging"
)

type scriptedProbe struct {
	mu  sync.Mutex
	err error
}

func (p *scriptedProbe) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *scriptedProbe) probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func waitForEvent(t *testing.T, events <-chan connectivity.Event) connectivity.Event {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connectivity event")
		return connectivity.Event{}
	}
}

func TestWatcherEmitsOnlyTransitions(t *testing.T) {
	probe := &scriptedProbe{}
	watcher := connectivity.NewWatcher(probe.probe, 10*time.Millisecond, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	first := waitForEvent(t, watcher.Events())
	if first.State != connectivity.StateOnline {
		t.Fatalf("expected initial online event, got %s", first.State)
	}

	probe.set(errors.New("unreachable"))
	second := waitForEvent(t, watcher.Events())
	if second.State != connectivity.StateOffline {
		t.Fatalf("expected offline transition, got %s", second.State)
	}

	probe.set(nil)
	third := waitForEvent(t, watcher.Events())
	if third.State != connectivity.StateOnline {
		t.Fatalf("expected online transition, got %s", third.State)
	}

	// A stable state must not flood the channel.
	select {
	case event := <-watcher.Events():
		t.Fatalf("unexpected event without transition: %#v", event)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWatcherStartsOffline(t *testing.T) {
	probe := &scriptedProbe{}
	probe.set(errors.New("down"))
	watcher := connectivity.NewWatcher(probe.probe, 10*time.Millisecond, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	first := waitForEvent(t, watcher.Events())
	if first.State != connectivity.StateOffline {
		t.Fatalf("expected initial offline event, got %s", first.State)
	}
}
