package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"slate/internal/rubric"
	"slate/internal/services"
)

// ScoreEvent is one immutable scoring entry captured during a session.
type ScoreEvent struct {
	RowKey        string  `json:"row_key"`
	Value         int     `json:"value"`
	OffsetSeconds float64 `json:"offset_seconds"`
}

// TagEvent is one immutable free-form annotation captured during a session.
type TagEvent struct {
	Kind          string  `json:"kind"`
	Value         string  `json:"value"`
	OffsetSeconds float64 `json:"offset_seconds"`
}

// Artifact is the immutable packaged result of one completed recording
// session. ClientArtifactID is the idempotency key for everything
// downstream: it is generated exactly once here and never changes across
// retries or process restarts.
type Artifact struct {
	ClientArtifactID string       `json:"client_artifact_id"`
	Payload          []byte       `json:"-"`
	ByteSize         int64        `json:"byte_size"`
	MimeType         string       `json:"mime_type"`
	DurationSeconds  float64      `json:"duration_seconds"`
	ScoreEvents      []ScoreEvent `json:"score_events"`
	TagEvents        []TagEvent   `json:"tag_events"`
	RubricSnapshotID string       `json:"rubric_snapshot_id"`
	TotalScore       int          `json:"total_score"`
	ParticipantRef   string       `json:"participant_ref"`
	ClassRef         string       `json:"class_ref"`
	CapturedAt       time.Time    `json:"captured_at"`
	LocalOnly        bool         `json:"local_only"`
}

// PackageInput bundles everything the packager consumes.
type PackageInput struct {
	Payload         []byte
	MimeType        string
	DurationSeconds float64
	ScoreEvents     []ScoreEvent
	TagEvents       []TagEvent
	Rubric          *rubric.Rubric
	ParticipantRef  string
	ClassRef        string
	CapturedAt      time.Time
	LocalOnly       bool
}

// ValidateRefs checks the mandatory downstream addressing references.
func ValidateRefs(participantRef, classRef string) error {
	if strings.TrimSpace(participantRef) == "" {
		return services.Wrap(services.ErrMissingField, "artifact", "package", "participant reference is required", nil)
	}
	if strings.TrimSpace(classRef) == "" {
		return services.Wrap(services.ErrMissingField, "artifact", "package", "class reference is required", nil)
	}
	return nil
}

// Package merges the binary payload, captured events, and session metadata
// into one immutable capture artifact. It is a pure transformation: no I/O,
// safe under concurrent use, and the generated ClientArtifactID must be
// treated as immutable for the life of the artifact.
func Package(input PackageInput) (*Artifact, error) {
	if err := ValidateRefs(input.ParticipantRef, input.ClassRef); err != nil {
		return nil, err
	}

	rubricID := ""
	if input.Rubric != nil {
		rubricID = input.Rubric.ID
	}

	scores := make([]ScoreEvent, len(input.ScoreEvents))
	copy(scores, input.ScoreEvents)
	tags := make([]TagEvent, len(input.TagEvents))
	copy(tags, input.TagEvents)

	return &Artifact{
		ClientArtifactID: uuid.NewString(),
		Payload:          input.Payload,
		ByteSize:         int64(len(input.Payload)),
		MimeType:         input.MimeType,
		DurationSeconds:  input.DurationSeconds,
		ScoreEvents:      scores,
		TagEvents:        tags,
		RubricSnapshotID: rubricID,
		TotalScore:       ProjectTotal(scores),
		ParticipantRef:   strings.TrimSpace(input.ParticipantRef),
		ClassRef:         strings.TrimSpace(input.ClassRef),
		CapturedAt:       input.CapturedAt,
		LocalOnly:        input.LocalOnly,
	}, nil
}

// WriteRecovery persists the artifact outside the queue: the payload to
// {dir}/{id}.bin and the metadata to {dir}/{id}.json. It is the fallback
// when the durable store is unavailable after a completed capture, so the
// session degrades to plain files instead of being lost. Returns the
// payload path.
func WriteRecovery(art *Artifact, dir string) (string, error) {
	if art == nil {
		return "", errors.New("artifact is nil")
	}
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("recovery directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create recovery directory: %w", err)
	}

	payloadPath := filepath.Join(dir, art.ClientArtifactID+".bin")
	if err := os.WriteFile(payloadPath, art.Payload, 0o644); err != nil {
		return "", fmt.Errorf("write recovery payload: %w", err)
	}

	meta, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode recovery metadata: %w", err)
	}
	metaPath := filepath.Join(dir, art.ClientArtifactID+".json")
	if err := os.WriteFile(metaPath, meta, 0o644); err != nil {
		return "", fmt.Errorf("write recovery metadata: %w", err)
	}
	return payloadPath, nil
}

// ProjectTotal computes the current total score as the sum of the latest
// value per row. The full event list remains the audit source of truth;
// this is only a projection over it.
func ProjectTotal(events []ScoreEvent) int {
	latest := make(map[string]int, len(events))
	order := make([]string, 0, len(events))
	for _, event := range events {
		if _, seen := latest[event.RowKey]; !seen {
			order = append(order, event.RowKey)
		}
		latest[event.RowKey] = event.Value
	}
	total := 0
	for _, key := range order {
		total += latest[key]
	}
	return total
}
