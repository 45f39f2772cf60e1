package session

import (
	"sync"

	"slate/internal/artifact"
)

// EventRecorder is an append-only sink for score and tag events. Every event
// is retained in capture order; later values for the same row never
// overwrite earlier ones. The "current score" per row is a projection
// computed downstream, not state held here.
type EventRecorder struct {
	mu     sync.Mutex
	scores []artifact.ScoreEvent
	tags   []artifact.TagEvent
}

// NewEventRecorder constructs an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// AddScore appends a scoring event.
func (r *EventRecorder) AddScore(rowKey string, value int, offsetSeconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, artifact.ScoreEvent{RowKey: rowKey, Value: value, OffsetSeconds: offsetSeconds})
}

// AddTag appends a tag event.
func (r *EventRecorder) AddTag(kind, value string, offsetSeconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, artifact.TagEvent{Kind: kind, Value: value, OffsetSeconds: offsetSeconds})
}

// Scores returns a copy of all score events in capture order.
func (r *EventRecorder) Scores() []artifact.ScoreEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]artifact.ScoreEvent, len(r.scores))
	copy(cp, r.scores)
	return cp
}

// Tags returns a copy of all tag events in capture order.
func (r *EventRecorder) Tags() []artifact.TagEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]artifact.TagEvent, len(r.tags))
	copy(cp, r.tags)
	return cp
}

// Len reports the total number of recorded events.
func (r *EventRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scores) + len(r.tags)
}
