package queue_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"slate/internal/queue"
	"slate/internal/testsupport"
)

func TestOpenInitializesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	art := testsupport.NewArtifact(t, "artifact-1", []byte("payload-bytes"))
	record, err := store.Enqueue(ctx, art)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if record == nil || record.ClientArtifactID != "artifact-1" {
		t.Fatalf("unexpected record: %#v", record)
	}
	if record.Status != queue.StatusQueued {
		t.Fatalf("expected queued status, got %s", record.Status)
	}
	if record.ParticipantRef != art.ParticipantRef || record.ClassRef != art.ClassRef {
		t.Fatalf("addressing refs not persisted: %#v", record)
	}
	if !record.CapturedAt.Equal(art.CapturedAt) {
		t.Fatalf("captured_at mismatch: %s vs %s", record.CapturedAt, art.CapturedAt)
	}

	data, err := os.ReadFile(record.PayloadPath)
	if err != nil {
		t.Fatalf("read spool file: %v", err)
	}
	if string(data) != "payload-bytes" {
		t.Fatalf("spool file content mismatch: %q", data)
	}

	scores, err := record.ScoreEvents()
	if err != nil {
		t.Fatalf("ScoreEvents failed: %v", err)
	}
	if len(scores) != 1 || scores[0].RowKey != "tone" {
		t.Fatalf("score events not persisted: %#v", scores)
	}
}

func TestOpenFailsWhenSpoolUnavailable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.RemoveAll(cfg.Paths.SpoolDir); err != nil {
		t.Fatalf("remove spool dir: %v", err)
	}
	if err := os.WriteFile(cfg.Paths.SpoolDir, []byte("squatter"), 0o644); err != nil {
		t.Fatalf("occupy spool path: %v", err)
	}

	if _, err := queue.Open(cfg); err == nil {
		t.Fatalf("expected Open to fail when the spool path is a regular file")
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	art := testsupport.NewArtifact(t, "artifact-dup", []byte("zz"))
	first, err := store.Enqueue(ctx, art)
	if err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}
	if err := store.MarkFailed(ctx, art.ClientArtifactID, "transport unreachable"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	second, err := store.Enqueue(ctx, art)
	if err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}
	if second.Attempts != 1 {
		t.Fatalf("re-enqueue must preserve attempts, got %d", second.Attempts)
	}
	if !second.EnqueuedAt.Equal(first.EnqueuedAt) {
		t.Fatalf("re-enqueue must preserve enqueue time: %s vs %s", second.EnqueuedAt, first.EnqueuedAt)
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
}

func TestMarkDeliveredRemovesRecordAndSpoolFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	art := testsupport.NewArtifact(t, "artifact-done", []byte("done"))
	record, err := store.Enqueue(ctx, art)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := store.MarkDelivered(ctx, art.ClientArtifactID); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	fetched, err := store.GetByArtifactID(ctx, art.ClientArtifactID)
	if err != nil {
		t.Fatalf("GetByArtifactID failed: %v", err)
	}
	if fetched != nil {
		t.Fatalf("expected record removed, got %#v", fetched)
	}
	if _, err := os.Stat(record.PayloadPath); !os.IsNotExist(err) {
		t.Fatalf("expected spool file removed, stat err: %v", err)
	}

	// A repeated confirmation must not fail.
	if err := store.MarkDelivered(ctx, art.ClientArtifactID); err != nil {
		t.Fatalf("second MarkDelivered failed: %v", err)
	}
}

func TestMarkFailedKeepsRecordForRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	art := testsupport.NewArtifact(t, "artifact-retry", []byte("rr"))
	if _, err := store.Enqueue(ctx, art); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := store.MarkInFlight(ctx, art.ClientArtifactID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.UpdateProgress(ctx, art.ClientArtifactID, 1); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if err := store.MarkFailed(ctx, art.ClientArtifactID, "connection reset"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	record, err := store.GetByArtifactID(ctx, art.ClientArtifactID)
	if err != nil {
		t.Fatalf("GetByArtifactID failed: %v", err)
	}
	if record == nil {
		t.Fatal("failed record must stay queued")
	}
	if record.Status != queue.StatusQueued {
		t.Fatalf("expected queued after failure, got %s", record.Status)
	}
	if record.Attempts != 1 || record.LastError != "connection reset" {
		t.Fatalf("failure not recorded: attempts=%d last_error=%q", record.Attempts, record.LastError)
	}
	if record.BytesSent != 1 {
		t.Fatalf("confirmed bytes must survive a failure, got %d", record.BytesSent)
	}
}

func TestResetStuckInFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		art := testsupport.NewArtifact(t, fmt.Sprintf("artifact-stuck-%d", i), []byte("s"))
		if _, err := store.Enqueue(ctx, art); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := store.MarkInFlight(ctx, "artifact-stuck-0"); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.MarkInFlight(ctx, "artifact-stuck-1"); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}

	count, err := store.ResetStuckInFlight(ctx)
	if err != nil {
		t.Fatalf("ResetStuckInFlight failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 records reset, got %d", count)
	}

	queued, err := store.DequeueAll(ctx)
	if err != nil {
		t.Fatalf("DequeueAll failed: %v", err)
	}
	if len(queued) != 3 {
		t.Fatalf("expected all 3 records queued again, got %d", len(queued))
	}
}

func TestDequeueAllOrdersByEnqueueTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	ids := []string{"artifact-a", "artifact-b", "artifact-c"}
	for _, id := range ids {
		if _, err := store.Enqueue(ctx, testsupport.NewArtifact(t, id, []byte(id))); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}

	records, err := store.DequeueAll(ctx)
	if err != nil {
		t.Fatalf("DequeueAll failed: %v", err)
	}
	if len(records) != len(ids) {
		t.Fatalf("expected %d records, got %d", len(ids), len(records))
	}
	for i, id := range ids {
		if records[i].ClientArtifactID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, records[i].ClientArtifactID)
		}
	}
}

func TestResetAttemptsClearsFailureState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	art := testsupport.NewArtifact(t, "artifact-reset", []byte("x"))
	if _, err := store.Enqueue(ctx, art); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := store.MarkFailed(ctx, art.ClientArtifactID, "timeout"); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}
	}

	ok, err := store.ResetAttempts(ctx, art.ClientArtifactID)
	if err != nil {
		t.Fatalf("ResetAttempts failed: %v", err)
	}
	if !ok {
		t.Fatal("expected record to be reset")
	}
	record, err := store.GetByArtifactID(ctx, art.ClientArtifactID)
	if err != nil {
		t.Fatalf("GetByArtifactID failed: %v", err)
	}
	if record.Attempts != 0 || record.LastError != "" {
		t.Fatalf("failure state not cleared: %#v", record)
	}

	ok, err = store.ResetAttempts(ctx, "missing")
	if err != nil {
		t.Fatalf("ResetAttempts on missing record failed: %v", err)
	}
	if ok {
		t.Fatal("expected no rows affected for missing record")
	}
}

func TestHealthAggregatesQueueState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.Enqueue(ctx, testsupport.NewArtifact(t, "artifact-h1", []byte("1234"))); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := store.Enqueue(ctx, testsupport.NewArtifact(t, "artifact-h2", []byte("12"))); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkInFlight(ctx, "artifact-h2"); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.MarkFailed(ctx, "artifact-h1", "boom"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.InFlight != 1 || health.Retrying != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
	if health.SpoolSize != 6 {
		t.Fatalf("expected 6 spool bytes, got %d", health.SpoolSize)
	}

	dbHealth, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !dbHealth.DatabaseExists || !dbHealth.DatabaseReadable || !dbHealth.TableExists || !dbHealth.IntegrityCheck {
		t.Fatalf("unexpected database health: %#v", dbHealth)
	}
	if dbHealth.TotalRecords != 2 {
		t.Fatalf("expected 2 records, got %d", dbHealth.TotalRecords)
	}
}

func TestRemoveAndClearDeleteSpoolFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a, err := store.Enqueue(ctx, testsupport.NewArtifact(t, "artifact-r1", []byte("a")))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	b, err := store.Enqueue(ctx, testsupport.NewArtifact(t, "artifact-r2", []byte("b")))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	removed, err := store.Remove(ctx, a.ClientArtifactID)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !removed {
		t.Fatal("expected record removed")
	}
	if _, err := os.Stat(a.PayloadPath); !os.IsNotExist(err) {
		t.Fatalf("expected spool file removed, stat err: %v", err)
	}

	count, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record cleared, got %d", count)
	}
	if _, err := os.Stat(b.PayloadPath); !os.IsNotExist(err) {
		t.Fatalf("expected spool file removed, stat err: %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		input string
		want  queue.Status
		ok    bool
	}{
		{"queued", queue.StatusQueued, true},
		{" In_Flight ", queue.StatusInFlight, true},
		{"delivered", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := queue.ParseStatus(tc.input)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("ParseStatus(%q) = %q,%v; want %q,%v", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}
