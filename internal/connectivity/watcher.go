// Package connectivity watches whether the ledger is reachable and reports
// transitions so the delivery worker can react to the network coming back
// instead of polling blindly.
package connectivity

import (
	"context"
	"log/slog"
	"time"

	"slate/internal/logging"
)

// State classifies ledger reachability.
type State string

const (
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// Event is emitted when reachability changes.
type Event struct {
	State State
	At    time.Time
}

// Probe checks reachability; a nil error means online.
type Probe func(ctx context.Context) error

// Watcher probes the ledger on an interval and emits only transitions: the
// first probe result always emits, after that repeated results are silent.
type Watcher struct {
	probe    Probe
	interval time.Duration
	logger   *slog.Logger
	events   chan Event
}

// NewWatcher constructs a watcher around a probe.
func NewWatcher(probe Probe, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Watcher{
		probe:    probe,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "connectivity"),
		events:   make(chan Event, 4),
	}
}

// Events returns the transition channel. It closes when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run probes until the context is canceled. The first probe happens
// immediately so consumers learn the starting state without waiting a full
// interval.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		known   bool
		current State
	)
	check := func() {
		state := StateOnline
		if err := w.probe(ctx); err != nil {
			state = StateOffline
		}
		if known && state == current {
			return
		}
		known = true
		current = state
		w.logger.Info("connectivity changed", logging.String(logging.FieldState, string(state)))
		select {
		case w.events <- Event{State: state, At: time.Now()}:
		case <-ctx.Done():
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			check()
		}
	}
}
