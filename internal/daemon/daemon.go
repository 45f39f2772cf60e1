package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"slate/internal/artifact"
	"slate/internal/capture"
	"slate/internal/config"
	"slate/internal/connectivity"
	"slate/internal/delivery"
	"slate/internal/ledger"
	"slate/internal/logging"
	"slate/internal/preflight"
	"slate/internal/queue"
)

// Daemon coordinates the background delivery services and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store
	ledger ledger.Service
	worker *delivery.Worker

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Queue        queue.HealthSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, svc ledger.Service, worker *delivery.Worker, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || svc == nil || worker == nil {
		return nil, errors.New("daemon requires config, store, ledger, and worker")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "slated.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		ledger:   svc,
		worker:   worker,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, recovers records orphaned by a previous
// crash, and launches the delivery worker and connectivity watcher.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another slate daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.stopped = make(chan struct{})

	// Failures are logged, not fatal: the queue must accept work while a
	// device or directory is temporarily unavailable.
	for _, check := range preflight.RunAll(d.ctx, d.cfg) {
		if !check.Passed {
			d.logger.Warn("preflight check failed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail),
			)
		}
	}

	reset, err := d.store.ResetStuckInFlight(d.ctx)
	if err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		return fmt.Errorf("reset stuck records: %w", err)
	}
	if reset > 0 {
		d.logger.Info("recovered interrupted uploads", logging.Int64("count", reset))
	}

	interval := time.Duration(d.cfg.Delivery.ProbeIntervalSeconds) * time.Second
	watcher := connectivity.NewWatcher(d.ledger.Ping, interval, d.logger)

	go func() {
		defer close(d.stopped)
		_ = d.worker.Start(d.ctx)
	}()
	go func() {
		_ = watcher.Run(d.ctx)
	}()
	go d.pumpConnectivity(watcher.Events())

	d.running.Store(true)
	d.logger.Info("slate daemon started", logging.String("lock", d.lockPath))
	return nil
}

// pumpConnectivity nudges the worker when the ledger becomes reachable so
// queued records go out the moment connectivity returns.
func (d *Daemon) pumpConnectivity(events <-chan connectivity.Event) {
	for event := range events {
		if event.State == connectivity.StateOnline {
			d.worker.Notify()
		}
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.stopped != nil {
		<-d.stopped
		d.stopped = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("slate daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// EnqueueArtifact persists a packaged artifact and nudges the worker so
// delivery starts without waiting for the next connectivity probe.
func (d *Daemon) EnqueueArtifact(ctx context.Context, art *artifact.Artifact) (*queue.Record, error) {
	record, err := d.store.Enqueue(ctx, art)
	if err != nil {
		return nil, err
	}
	d.worker.Notify()
	return record, nil
}

// WatchHotplug logs capture devices coming and going. Device arrival does
// not touch the session machine; the user decides when to re-acquire.
func (d *Daemon) WatchHotplug(ctx context.Context, monitor *capture.HotplugMonitor) {
	if monitor == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-monitor.Events():
			if !ok {
				return
			}
			d.logger.Info("capture device hotplug",
				logging.String(logging.FieldEventType, "device_"+string(event.Action)),
				logging.String("node", event.Node),
			)
		}
	}
}

// ListQueue returns upload records filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Record, error) {
	if len(statuses) == 0 {
		return d.store.List(ctx)
	}
	return d.store.List(ctx, statuses...)
}

// ClearQueue removes all upload records and their spool files.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	return d.store.Clear(ctx)
}

// RemoveRecord removes one upload record.
func (d *Daemon) RemoveRecord(ctx context.Context, artifactID string) (bool, error) {
	return d.store.Remove(ctx, artifactID)
}

// RetryRecord clears a record's failure state and nudges the worker.
func (d *Daemon) RetryRecord(ctx context.Context, artifactID string) (bool, error) {
	ok, err := d.store.ResetAttempts(ctx, artifactID)
	if err != nil {
		return false, err
	}
	if ok {
		d.worker.Notify()
	}
	return ok, nil
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("queue health unavailable", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		Queue:        health,
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
