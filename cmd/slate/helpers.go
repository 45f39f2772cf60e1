package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// timedScore is a scoring entry scheduled against the recording clock.
type timedScore struct {
	RowKey        string
	Value         int
	OffsetSeconds float64
}

// timedTag is an annotation scheduled against the recording clock.
type timedTag struct {
	Kind          string
	Value         string
	OffsetSeconds float64
}

// parseScoreSpec parses "row=value@offset", e.g. "tone=4@12.5". The offset
// defaults to zero when omitted.
func parseScoreSpec(spec string) (timedScore, error) {
	body, offset, err := splitOffset(spec)
	if err != nil {
		return timedScore{}, err
	}
	key, valueStr, ok := strings.Cut(body, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return timedScore{}, fmt.Errorf("invalid score %q: expected row=value[@offset]", spec)
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return timedScore{}, fmt.Errorf("invalid score value in %q: %w", spec, err)
	}
	return timedScore{RowKey: strings.TrimSpace(key), Value: value, OffsetSeconds: offset}, nil
}

// parseTagSpec parses "kind=value@offset", e.g. "note=breathing@30".
func parseTagSpec(spec string) (timedTag, error) {
	body, offset, err := splitOffset(spec)
	if err != nil {
		return timedTag{}, err
	}
	kind, value, ok := strings.Cut(body, "=")
	if !ok || strings.TrimSpace(kind) == "" || strings.TrimSpace(value) == "" {
		return timedTag{}, fmt.Errorf("invalid tag %q: expected kind=value[@offset]", spec)
	}
	return timedTag{Kind: strings.TrimSpace(kind), Value: strings.TrimSpace(value), OffsetSeconds: offset}, nil
}

func splitOffset(spec string) (string, float64, error) {
	body, offsetStr, found := strings.Cut(spec, "@")
	if !found {
		return body, 0, nil
	}
	offset, err := strconv.ParseFloat(strings.TrimSpace(offsetStr), 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid offset in %q: %w", spec, err)
	}
	if offset < 0 {
		return "", 0, fmt.Errorf("invalid offset in %q: must not be negative", spec)
	}
	return body, offset, nil
}

// scheduledEvent merges scores and tags into one offset-ordered timeline.
type scheduledEvent struct {
	offsetSeconds float64
	score         *timedScore
	tag           *timedTag
}

func buildTimeline(scores []timedScore, tags []timedTag) []scheduledEvent {
	events := make([]scheduledEvent, 0, len(scores)+len(tags))
	for i := range scores {
		events = append(events, scheduledEvent{offsetSeconds: scores[i].OffsetSeconds, score: &scores[i]})
	}
	for i := range tags {
		events = append(events, scheduledEvent{offsetSeconds: tags[i].OffsetSeconds, tag: &tags[i]})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].offsetSeconds < events[j].offsetSeconds
	})
	return events
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
