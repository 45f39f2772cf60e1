package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"slate/internal/config"
	"slate/internal/ledger"
	"slate/internal/logging"
	"slate/internal/notifications"
	"slate/internal/queue"
	"slate/internal/services"
)

// Clock supplies the current time; injected for deterministic tests.
type Clock func() time.Time

// Option configures optional Worker behavior.
type Option func(*Worker)

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithNotifier attaches a notification service for delivery events.
func WithNotifier(notifier notifications.Service) Option {
	return func(w *Worker) {
		if notifier != nil {
			w.notifier = notifier
		}
	}
}

// PassReport summarizes one drain pass.
type PassReport struct {
	Attempted int
	Delivered int
	Failed    int
	Deferred  int
	QuotaHeld int
}

// Worker drains queued upload records into the ledger.
type Worker struct {
	store    *queue.Store
	ledger   ledger.Service
	logger   *slog.Logger
	clock    Clock
	notifier notifications.Service

	backoffBase time.Duration
	backoffCap  time.Duration
	quotaUser   string
	localLimit  int64

	notify chan struct{}
}

// NewWorker constructs a delivery worker.
func NewWorker(store *queue.Store, svc ledger.Service, cfg *config.Config, logger *slog.Logger, opts ...Option) *Worker {
	base := time.Duration(cfg.Delivery.BackoffBaseSeconds) * time.Second
	if base <= 0 {
		base = 5 * time.Second
	}
	capDur := time.Duration(cfg.Delivery.BackoffCapSeconds) * time.Second
	if capDur < base {
		capDur = base
	}

	w := &Worker{
		store:       store,
		ledger:      svc,
		logger:      logging.NewComponentLogger(logger, "delivery"),
		clock:       time.Now,
		notifier:    notifications.NewService(cfg),
		backoffBase: base,
		backoffCap:  capDur,
		quotaUser:   cfg.Quota.UserID,
		localLimit:  cfg.Quota.LimitBytes,
		notify:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Notify nudges the worker to run a pass. Safe from any goroutine; nudges
// collapse while a pass is pending.
func (w *Worker) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Start runs passes until the context is canceled. One pass runs
// immediately so records left over from a previous process go out as soon
// as the worker is up.
func (w *Worker) Start(ctx context.Context) error {
	w.Notify()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.notify:
			if _, err := w.RunPass(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn("delivery pass failed", logging.Error(err))
			}
		}
	}
}

// RunPass snapshots the queued records and attempts delivery for every
// record whose backoff window has elapsed. Records enqueued during the pass
// wait for the next one.
func (w *Worker) RunPass(ctx context.Context) (PassReport, error) {
	report := PassReport{}

	records, err := w.store.DequeueAll(ctx)
	if err != nil {
		return report, err
	}
	if len(records) == 0 {
		return report, nil
	}

	quota, quotaKnown := w.fetchQuota(ctx)

	// The limit is the tighter of the remote quota and the advisory local
	// limit_bytes. With no remote state the local limit still applies,
	// counting bytes delivered during this pass.
	limit := w.localLimit
	if quotaKnown && quota.LimitBytes > 0 && (limit <= 0 || quota.LimitBytes < limit) {
		limit = quota.LimitBytes
	}

	now := w.clock()
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !w.eligible(record, now) {
			report.Deferred++
			continue
		}
		if !record.LocalOnly && limit > 0 && quota.UsedBytes+record.ByteSize > limit {
			report.QuotaHeld++
			w.logger.Warn("delivery held by quota",
				logging.String(logging.FieldArtifactID, record.ClientArtifactID),
				logging.Int64("byte_size", record.ByteSize),
				logging.Int64("quota_used", quota.UsedBytes),
				logging.Int64("quota_limit", limit),
			)
			w.notifyQuietly(w.notifier.NotifyQuotaHeld(ctx, record.ClientArtifactID, w.quotaUser))
			continue
		}

		report.Attempted++
		if err := w.deliver(ctx, record); err != nil {
			report.Failed++
			w.logger.Warn("delivery attempt failed",
				logging.String(logging.FieldArtifactID, record.ClientArtifactID),
				logging.Int("attempts", record.Attempts+1),
				logging.String(logging.FieldErrorKind, string(services.FailureKind(err))),
				logging.Error(err),
			)
			if markErr := w.store.MarkFailed(ctx, record.ClientArtifactID, err.Error()); markErr != nil {
				w.logger.Error("failed to requeue record", logging.Error(markErr))
			}
			w.notifyQuietly(w.notifier.NotifyDeliveryFailed(ctx, record.ClientArtifactID, err.Error()))
			continue
		}

		report.Delivered++
		if !record.LocalOnly {
			quota.UsedBytes += record.ByteSize
		}
		w.logger.Info("artifact delivered",
			logging.String(logging.FieldArtifactID, record.ClientArtifactID),
			logging.Int64("byte_size", record.ByteSize),
		)
		w.notifyQuietly(w.notifier.NotifyArtifactDelivered(ctx, record.ParticipantRef, record.ClassRef, record.ByteSize))
	}
	if report.Attempted > 0 {
		w.notifyQuietly(w.notifier.NotifyPassCompleted(ctx, report.Delivered, report.Failed))
	}
	return report, nil
}

// notifyQuietly logs notification failures instead of surfacing them; a
// dead ntfy topic must never block delivery.
func (w *Worker) notifyQuietly(err error) {
	if err != nil {
		w.logger.Debug("notification failed", logging.Error(err))
	}
}

// eligible applies the retry backoff window: fresh records go immediately,
// failed ones wait base*2^(attempts-1) capped at the configured maximum.
func (w *Worker) eligible(record *queue.Record, now time.Time) bool {
	if record.Attempts == 0 {
		return true
	}
	return !now.Before(record.UpdatedAt.Add(w.backoff(record.Attempts)))
}

func (w *Worker) backoff(attempts int) time.Duration {
	delay := w.backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= w.backoffCap {
			return w.backoffCap
		}
	}
	if delay > w.backoffCap {
		return w.backoffCap
	}
	return delay
}

// deliver pushes one record through the ledger legs: binary, metadata,
// quota, then removal. Every leg is idempotent, so a crash between legs is
// resolved by replaying the whole sequence on the next pass.
func (w *Worker) deliver(ctx context.Context, record *queue.Record) error {
	if err := w.store.MarkInFlight(ctx, record.ClientArtifactID); err != nil {
		return err
	}

	remoteRef := ""
	if !record.LocalOnly {
		ref, err := w.putBinary(ctx, record)
		if err != nil {
			return err
		}
		remoteRef = ref
	}

	meta, err := metadataFromRecord(record, remoteRef)
	if err != nil {
		return err
	}
	if err := w.ledger.RegisterMetadata(ctx, meta); err != nil {
		return err
	}

	if !record.LocalOnly && w.quotaUser != "" {
		if _, err := w.ledger.ApplyQuotaDelta(ctx, w.quotaUser, record.ByteSize); err != nil {
			return err
		}
	}

	return w.store.MarkDelivered(ctx, record.ClientArtifactID)
}

// putBinary uploads the payload bytes the ledger does not already hold.
func (w *Worker) putBinary(ctx context.Context, record *queue.Record) (string, error) {
	offset, err := w.ledger.BinaryOffset(ctx, record.ClientArtifactID)
	if err != nil {
		return "", err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= record.ByteSize {
		// Everything already arrived in a previous attempt.
		return "", nil
	}

	file, err := os.Open(record.PayloadPath)
	if err != nil {
		return "", fmt.Errorf("open spool file: %w", err)
	}
	defer file.Close()

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return "", fmt.Errorf("seek spool file: %w", err)
		}
	}

	progress := func(bytesSent int64) {
		if err := w.store.UpdateProgress(ctx, record.ClientArtifactID, bytesSent); err != nil {
			w.logger.Debug("progress update failed", logging.Error(err))
		}
	}

	return w.ledger.PutBinary(ctx, ledger.BinaryPut{
		ArtifactID: record.ClientArtifactID,
		MimeType:   record.MimeType,
		Body:       file,
		Offset:     offset,
		Size:       record.ByteSize,
		Progress:   progress,
	})
}

func (w *Worker) fetchQuota(ctx context.Context) (ledger.QuotaState, bool) {
	if w.quotaUser == "" {
		return ledger.QuotaState{}, false
	}
	quota, err := w.ledger.Quota(ctx, w.quotaUser)
	if err != nil {
		w.logger.Debug("quota probe failed", logging.Error(err))
		return ledger.QuotaState{}, false
	}
	return quota, true
}

func metadataFromRecord(record *queue.Record, remoteRef string) (ledger.Metadata, error) {
	scores, err := record.ScoreEvents()
	if err != nil {
		return ledger.Metadata{}, err
	}
	tags, err := record.TagEvents()
	if err != nil {
		return ledger.Metadata{}, err
	}
	return ledger.Metadata{
		ClientArtifactID: record.ClientArtifactID,
		RemoteRef:        remoteRef,
		ByteSize:         record.ByteSize,
		MimeType:         record.MimeType,
		DurationSeconds:  record.DurationSeconds,
		ScoreEvents:      scores,
		TagEvents:        tags,
		RubricSnapshotID: record.RubricSnapshotID,
		TotalScore:       record.TotalScore,
		ParticipantRef:   record.ParticipantRef,
		ClassRef:         record.ClassRef,
		CapturedAt:       record.CapturedAt,
		LocalOnly:        record.LocalOnly,
	}, nil
}
