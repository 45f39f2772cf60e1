package daemon_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"slate/internal/config"
	"slate/internal/daemon"
	"slate/internal/delivery"
	"slate/internal/ledger"
	"slate/internal/logging"
	"slate/internal/queue"
	"slate/internal/testsupport"
)

type stubLedger struct {
	mu        sync.Mutex
	delivered []string
}

func (s *stubLedger) Ping(ctx context.Context) error { return nil }

func (s *stubLedger) BinaryOffset(ctx context.Context, artifactID string) (int64, error) {
	return 0, nil
}

func (s *stubLedger) PutBinary(ctx context.Context, put ledger.BinaryPut) (string, error) {
	return "ledger://" + put.ArtifactID, nil
}

func (s *stubLedger) RegisterMetadata(ctx context.Context, meta ledger.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, meta.ClientArtifactID)
	return nil
}

func (s *stubLedger) Quota(ctx context.Context, userID string) (ledger.QuotaState, error) {
	return ledger.QuotaState{UserID: userID}, nil
}

func (s *stubLedger) ApplyQuotaDelta(ctx context.Context, userID string, deltaBytes int64) (ledger.QuotaState, error) {
	return ledger.QuotaState{UserID: userID, UsedBytes: deltaBytes}, nil
}

func (s *stubLedger) deliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func newTestDaemon(t *testing.T, cfg *config.Config, store *queue.Store) (*daemon.Daemon, *stubLedger) {
	t.Helper()

	remote := &stubLedger{}
	worker := delivery.NewWorker(store, remote, cfg, logging.NewNop())
	d, err := daemon.New(cfg, store, remote, worker, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	return d, remote
}

func waitForEmptyQueue(t *testing.T, store *queue.Store) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		records, err := store.List(context.Background())
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(records) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for queue to drain, %d records left", len(records))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, nil, nil, nil, logging.NewNop()); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestStartEnforcesSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	first, _ := newTestDaemon(t, cfg, store)
	second, _ := newTestDaemon(t, cfg, store)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer first.Stop()

	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second instance to be rejected")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("restart after release failed: %v", err)
	}
	second.Stop()
}

func TestStartRecoversOrphanedUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.Enqueue(ctx, testsupport.NewArtifact(t, "artifact-orphan", []byte("o"))); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	// Simulate a crash mid-upload.
	if err := store.MarkInFlight(ctx, "artifact-orphan"); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}

	d, remote := newTestDaemon(t, cfg, store)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	waitForEmptyQueue(t, store)
	if remote.deliveredCount() != 1 {
		t.Fatalf("expected orphaned record delivered, got %d", remote.deliveredCount())
	}
}

func TestEnqueueArtifactTriggersDelivery(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d, remote := newTestDaemon(t, cfg, store)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	record, err := d.EnqueueArtifact(ctx, testsupport.NewArtifact(t, "artifact-live", []byte("live")))
	if err != nil {
		t.Fatalf("EnqueueArtifact failed: %v", err)
	}
	if record.ClientArtifactID != "artifact-live" {
		t.Fatalf("unexpected record: %#v", record)
	}

	waitForEmptyQueue(t, store)
	if remote.deliveredCount() != 1 {
		t.Fatalf("expected 1 delivery, got %d", remote.deliveredCount())
	}
}

func TestRetryRecordClearsFailureState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d, _ := newTestDaemon(t, cfg, store)

	ctx := context.Background()
	if _, err := store.Enqueue(ctx, testsupport.NewArtifact(t, "artifact-f", []byte("f"))); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkFailed(ctx, "artifact-f", "boom"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	ok, err := d.RetryRecord(ctx, "artifact-f")
	if err != nil {
		t.Fatalf("RetryRecord failed: %v", err)
	}
	if !ok {
		t.Fatal("expected record retried")
	}
	record, err := store.GetByArtifactID(ctx, "artifact-f")
	if err != nil {
		t.Fatalf("GetByArtifactID failed: %v", err)
	}
	if record.Attempts != 0 || record.LastError != "" {
		t.Fatalf("failure state not cleared: %#v", record)
	}
}

func TestStatusReportsQueueState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d, _ := newTestDaemon(t, cfg, store)

	ctx := context.Background()
	if _, err := store.Enqueue(ctx, testsupport.NewArtifact(t, "artifact-s", []byte("s"))); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	status := d.Status(ctx)
	if status.Running {
		t.Fatal("daemon should not report running before Start")
	}
	if status.Queue.Total != 1 || status.Queue.Queued != 1 {
		t.Fatalf("unexpected queue health: %#v", status.Queue)
	}
	if status.QueueDBPath == "" || status.LockFilePath == "" {
		t.Fatalf("expected paths populated: %#v", status)
	}
}
