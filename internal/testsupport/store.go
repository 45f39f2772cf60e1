package testsupport

import (
	"testing"
	"time"

	"slate/internal/artifact"
	"slate/internal/config"
	"slate/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewArtifact builds a packaged capture artifact with deterministic content
// for queue and delivery tests.
func NewArtifact(t testing.TB, id string, payload []byte) *artifact.Artifact {
	t.Helper()

	return &artifact.Artifact{
		ClientArtifactID: id,
		Payload:          payload,
		ByteSize:         int64(len(payload)),
		MimeType:         "video/webm",
		DurationSeconds:  12,
		ScoreEvents:      []artifact.ScoreEvent{{RowKey: "tone", Value: 4, OffsetSeconds: 3}},
		TagEvents:        []artifact.TagEvent{{Kind: "note", Value: "phrasing", OffsetSeconds: 6}},
		RubricSnapshotID: "rubric-test",
		TotalScore:       4,
		ParticipantRef:   "student-1",
		ClassRef:         "band-1",
		CapturedAt:       time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
	}
}
