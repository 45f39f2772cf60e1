package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"slate/internal/artifact"
)

// Status represents the delivery lifecycle of an upload record.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusInFlight Status = "in_flight"
)

var allStatuses = []Status{
	StatusQueued,
	StatusInFlight,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Record is one durable upload awaiting delivery to the ledger. The payload
// itself lives in a spool file next to the database; everything the ledger
// needs to reconstruct the capture rides along as columns.
type Record struct {
	ClientArtifactID string
	PayloadPath      string
	ByteSize         int64
	MimeType         string
	DurationSeconds  float64
	ScoreEventsJSON  string
	TagEventsJSON    string
	RubricSnapshotID string
	TotalScore       int
	ParticipantRef   string
	ClassRef         string
	CapturedAt       time.Time
	LocalOnly        bool

	Status     Status
	Attempts   int
	LastError  string
	BytesSent  int64
	EnqueuedAt time.Time
	UpdatedAt  time.Time
}

// ScoreEvents decodes the persisted scoring events.
func (r *Record) ScoreEvents() ([]artifact.ScoreEvent, error) {
	if strings.TrimSpace(r.ScoreEventsJSON) == "" {
		return nil, nil
	}
	var events []artifact.ScoreEvent
	if err := json.Unmarshal([]byte(r.ScoreEventsJSON), &events); err != nil {
		return nil, fmt.Errorf("decode score events: %w", err)
	}
	return events, nil
}

// TagEvents decodes the persisted tag events.
func (r *Record) TagEvents() ([]artifact.TagEvent, error) {
	if strings.TrimSpace(r.TagEventsJSON) == "" {
		return nil, nil
	}
	var events []artifact.TagEvent
	if err := json.Unmarshal([]byte(r.TagEventsJSON), &events); err != nil {
		return nil, fmt.Errorf("decode tag events: %w", err)
	}
	return events, nil
}

// IsInFlight reports whether the record is currently being delivered.
func (r Record) IsInFlight() bool {
	return r.Status == StatusInFlight
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Queued    int
	InFlight  int
	Retrying  int
	SpoolSize int64
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalRecords     int
	Error            string
}
