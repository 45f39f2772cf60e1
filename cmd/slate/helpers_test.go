package main

import (
	"testing"
)

func TestParseScoreSpec(t *testing.T) {
	cases := []struct {
		name    string
		spec    string
		want    timedScore
		wantErr bool
	}{
		{name: "with offset", spec: "tone=4@12.5", want: timedScore{RowKey: "tone", Value: 4, OffsetSeconds: 12.5}},
		{name: "offset defaults to zero", spec: "rhythm=3", want: timedScore{RowKey: "rhythm", Value: 3}},
		{name: "spaces trimmed", spec: " tone = 5 @ 2 ", want: timedScore{RowKey: "tone", Value: 5, OffsetSeconds: 2}},
		{name: "missing value", spec: "tone@3", wantErr: true},
		{name: "missing key", spec: "=4@3", wantErr: true},
		{name: "non-numeric value", spec: "tone=high@3", wantErr: true},
		{name: "negative offset", spec: "tone=4@-1", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseScoreSpec(tc.spec)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseScoreSpec(%q) succeeded, want error", tc.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseScoreSpec(%q) returned error: %v", tc.spec, err)
			}
			if got != tc.want {
				t.Fatalf("parseScoreSpec(%q) = %+v, want %+v", tc.spec, got, tc.want)
			}
		})
	}
}

func TestParseTagSpec(t *testing.T) {
	cases := []struct {
		name    string
		spec    string
		want    timedTag
		wantErr bool
	}{
		{name: "with offset", spec: "note=breathing@30", want: timedTag{Kind: "note", Value: "breathing", OffsetSeconds: 30}},
		{name: "offset defaults to zero", spec: "flag=retake", want: timedTag{Kind: "flag", Value: "retake"}},
		{name: "missing value", spec: "note=@5", wantErr: true},
		{name: "missing kind", spec: "=retake@5", wantErr: true},
		{name: "bad offset", spec: "note=ok@soon", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseTagSpec(tc.spec)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseTagSpec(%q) succeeded, want error", tc.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTagSpec(%q) returned error: %v", tc.spec, err)
			}
			if got != tc.want {
				t.Fatalf("parseTagSpec(%q) = %+v, want %+v", tc.spec, got, tc.want)
			}
		})
	}
}

func TestBuildTimelineOrdersByOffset(t *testing.T) {
	scores := []timedScore{
		{RowKey: "tone", Value: 4, OffsetSeconds: 20},
		{RowKey: "rhythm", Value: 3, OffsetSeconds: 5},
	}
	tags := []timedTag{
		{Kind: "note", Value: "phrasing", OffsetSeconds: 10},
	}

	events := buildTimeline(scores, tags)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].offsetSeconds < events[i-1].offsetSeconds {
			t.Fatalf("timeline out of order at %d: %f before %f", i, events[i-1].offsetSeconds, events[i].offsetSeconds)
		}
	}
	if events[0].score == nil || events[0].score.RowKey != "rhythm" {
		t.Fatalf("expected rhythm score first, got %+v", events[0])
	}
	if events[1].tag == nil || events[1].tag.Kind != "note" {
		t.Fatalf("expected note tag second, got %+v", events[1])
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{int64(1.5 * 1024 * 1024 * 1024), "1.5 GiB"},
	}

	for _, tc := range cases {
		if got := formatBytes(tc.size); got != tc.want {
			t.Fatalf("formatBytes(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}
