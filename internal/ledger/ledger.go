package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"slate/internal/artifact"
	"slate/internal/config"
)

// Progress receives the total number of payload bytes confirmed so far,
// including bytes the remote side already held before this attempt.
type Progress func(bytesSent int64)

// BinaryPut describes one binary upload leg.
type BinaryPut struct {
	ArtifactID string
	MimeType   string
	Body       io.Reader
	Offset     int64
	Size       int64
	Progress   Progress
}

// Metadata is the artifact record registered with the ledger once the
// binary is stored. It is keyed by the client artifact ID, which the ledger
// deduplicates on.
type Metadata struct {
	ClientArtifactID string                `json:"client_artifact_id"`
	RemoteRef        string                `json:"remote_ref,omitempty"`
	ByteSize         int64                 `json:"byte_size"`
	MimeType         string                `json:"mime_type"`
	DurationSeconds  float64               `json:"duration_seconds"`
	ScoreEvents      []artifact.ScoreEvent `json:"score_events"`
	TagEvents        []artifact.TagEvent   `json:"tag_events"`
	RubricSnapshotID string                `json:"rubric_snapshot_id,omitempty"`
	TotalScore       int                   `json:"total_score"`
	ParticipantRef   string                `json:"participant_ref"`
	ClassRef         string                `json:"class_ref"`
	CapturedAt       time.Time             `json:"captured_at"`
	LocalOnly        bool                  `json:"local_only"`
}

// QuotaState reports a user's storage accounting on the ledger.
type QuotaState struct {
	UserID     string `json:"user_id"`
	UsedBytes  int64  `json:"used_bytes"`
	LimitBytes int64  `json:"limit_bytes"`
}

// Remaining returns how many bytes fit under the limit. A zero limit means
// the ledger enforces none.
func (q QuotaState) Remaining() int64 {
	if q.LimitBytes <= 0 {
		return -1
	}
	remaining := q.LimitBytes - q.UsedBytes
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Service is the remote surface the delivery worker drives.
type Service interface {
	// Ping checks whether the ledger is reachable.
	Ping(ctx context.Context) error
	// BinaryOffset reports how many payload bytes the ledger already holds
	// for an artifact, so an interrupted upload resumes instead of restarting.
	BinaryOffset(ctx context.Context, artifactID string) (int64, error)
	// PutBinary streams payload bytes and returns the remote reference the
	// binary is stored under.
	PutBinary(ctx context.Context, put BinaryPut) (string, error)
	// RegisterMetadata records the artifact under its client artifact ID.
	// Registering the same ID twice is safe.
	RegisterMetadata(ctx context.Context, meta Metadata) error
	// Quota reads the user's current storage accounting.
	Quota(ctx context.Context, userID string) (QuotaState, error)
	// ApplyQuotaDelta settles storage accounting after a delivery.
	ApplyQuotaDelta(ctx context.Context, userID string, deltaBytes int64) (QuotaState, error)
}

// New builds the ledger service from configuration. The metadata and quota
// legs always go through the HTTP API; the binary leg goes to S3 when the
// config selects that backend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Service, error) {
	api, err := newAPIService(cfg, logger)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Ledger.BinaryBackend)) {
	case "", "api":
		return api, nil
	case "s3":
		transport, err := newS3Transport(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &hybridService{apiService: api, binary: transport}, nil
	default:
		return nil, fmt.Errorf("unknown binary backend %q", cfg.Ledger.BinaryBackend)
	}
}

// hybridService keeps metadata and quota on the API while the binary leg
// goes to S3.
type hybridService struct {
	*apiService
	binary *s3Transport
}

// BinaryOffset always reports zero: the S3 leg re-puts whole objects keyed
// by artifact ID, which stays idempotent without server-side offsets.
func (h *hybridService) BinaryOffset(ctx context.Context, artifactID string) (int64, error) {
	return 0, nil
}

func (h *hybridService) PutBinary(ctx context.Context, put BinaryPut) (string, error) {
	return h.binary.Put(ctx, put)
}

// countingReader forwards Read calls while reporting cumulative confirmed
// bytes through the progress callback.
type countingReader struct {
	r        io.Reader
	base     int64
	read     int64
	progress Progress
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.progress != nil {
			c.progress(c.base + c.read)
		}
	}
	return n, err
}
