package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"slate/internal/capture"
	"slate/internal/rubric"
	"slate/internal/services"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMachine(t *testing.T, device capture.Device, clock *fakeClock) *Machine {
	t.Helper()
	constraints := capture.Constraints{
		DevicePath:    "/dev/video0",
		Direction:     capture.DirectionFront,
		MimeType:      "video/webm",
		ChunkInterval: time.Second,
	}
	return NewMachine(device, constraints, time.Second, nil, WithClock(clock.Now))
}

func stopInput() StopInput {
	return StopInput{
		ParticipantRef: "student-7",
		ClassRef:       "band-2",
		Rubric:         &rubric.Rubric{ID: "rubric-v2", Rows: []rubric.Row{{Key: "rowA", MaxPoints: 5}}},
	}
}

func waitForChunks(t *testing.T, m *Machine, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.ChunkCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d chunks, have %d", want, m.ChunkCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAcquireDeniedLeavesMachineIdle(t *testing.T) {
	device := &capture.ScriptedDevice{Unavailable: true}
	m := newTestMachine(t, device, newFakeClock())

	err := m.StartPreview(context.Background())
	if !errors.Is(err, services.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("expected state idle after failed acquire, got %s", m.State())
	}
	if m.ChunkCount() != 0 || m.Elapsed() != 0 {
		t.Fatal("no partial session state may survive a failed acquisition")
	}
}

func TestDoubleStartPreviewIsNoOp(t *testing.T) {
	device := &capture.ScriptedDevice{}
	m := newTestMachine(t, device, newFakeClock())

	if err := m.StartPreview(context.Background()); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.StartPreview(context.Background()); err != nil {
		t.Fatalf("second StartPreview failed: %v", err)
	}
	if device.AcquireCount() != 1 {
		t.Fatalf("expected exactly one device acquisition, got %d", device.AcquireCount())
	}
	if m.State() != StatePreviewActive {
		t.Fatalf("expected preview_active, got %s", m.State())
	}
}

func TestRecordingRequiresPreview(t *testing.T) {
	m := newTestMachine(t, &capture.ScriptedDevice{}, newFakeClock())
	if err := m.StartRecording(); err == nil {
		t.Fatal("expected error when recording without preview")
	}
}

func TestPauseResumeDurationAccounting(t *testing.T) {
	clock := newFakeClock()
	device := &capture.ScriptedDevice{Script: [][]byte{[]byte("aaaa"), []byte("bbbb")}}
	m := newTestMachine(t, device, clock)

	ctx := context.Background()
	if err := m.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	waitForChunks(t, m, 2)

	clock.Advance(10 * time.Second)
	if err := m.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	// Paused time must not count toward elapsed duration.
	clock.Advance(30 * time.Second)
	if m.Elapsed() != 10*time.Second {
		t.Fatalf("expected 10s elapsed while paused, got %s", m.Elapsed())
	}

	if err := m.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	clock.Advance(5 * time.Second)
	if m.Elapsed() != 15*time.Second {
		t.Fatalf("expected 15s elapsed after resume, got %s", m.Elapsed())
	}

	if m.ChunkCount() != 2 {
		t.Fatalf("pause must not drop buffered chunks, have %d", m.ChunkCount())
	}
}

func TestEventsSurvivePauseAndResume(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(t, &capture.ScriptedDevice{}, clock)

	ctx := context.Background()
	if err := m.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	clock.Advance(5 * time.Second)
	if err := m.RecordScore("rowA", 3); err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}
	if err := m.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := m.RecordTag("note", "breathing"); err != nil {
		t.Fatalf("RecordTag while paused failed: %v", err)
	}
	if err := m.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	clock.Advance(15 * time.Second)
	if err := m.RecordScore("rowA", 5); err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}

	art, err := m.Stop(stopInput())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(art.ScoreEvents) != 2 || len(art.TagEvents) != 1 {
		t.Fatalf("expected 2 score and 1 tag event, got %d and %d", len(art.ScoreEvents), len(art.TagEvents))
	}
	if art.ScoreEvents[0].OffsetSeconds != 5 || art.ScoreEvents[1].OffsetSeconds != 20 {
		t.Fatalf("unexpected event offsets: %#v", art.ScoreEvents)
	}
	if art.TotalScore != 5 {
		t.Fatalf("expected latest-value total 5, got %d", art.TotalScore)
	}
}

func TestStopTooShortLeavesStateUntouched(t *testing.T) {
	clock := newFakeClock()
	device := &capture.ScriptedDevice{}
	m := newTestMachine(t, device, clock)

	ctx := context.Background()
	if err := m.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	clock.Advance(400 * time.Millisecond)

	_, err := m.Stop(stopInput())
	if !errors.Is(err, services.ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if m.State() != StateRecording {
		t.Fatalf("expected state to remain recording, got %s", m.State())
	}
	if device.ReleaseCount() != 0 {
		t.Fatal("device must stay acquired after a rejected stop")
	}
}

func TestStopMissingRefsLeavesSessionRecoverable(t *testing.T) {
	clock := newFakeClock()
	device := &capture.ScriptedDevice{}
	m := newTestMachine(t, device, clock)

	ctx := context.Background()
	if err := m.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	clock.Advance(5 * time.Second)

	_, err := m.Stop(StopInput{ClassRef: "band-2"})
	if !errors.Is(err, services.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if m.State() != StateRecording {
		t.Fatalf("expected session to remain recoverable, got state %s", m.State())
	}
}

func TestStopPackagesConcatenatedPayload(t *testing.T) {
	clock := newFakeClock()
	device := &capture.ScriptedDevice{Script: [][]byte{[]byte("aa"), []byte("bb"), []byte("cc")}, Mime: "video/webm"}
	m := newTestMachine(t, device, clock)

	ctx := context.Background()
	if err := m.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	waitForChunks(t, m, 3)
	clock.Advance(30 * time.Second)

	art, err := m.Stop(stopInput())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if string(art.Payload) != "aabbcc" {
		t.Fatalf("expected concatenated payload in capture order, got %q", art.Payload)
	}
	if art.DurationSeconds != 30 {
		t.Fatalf("expected 30s duration, got %v", art.DurationSeconds)
	}
	if art.MimeType != "video/webm" {
		t.Fatalf("unexpected mime type %q", art.MimeType)
	}
	if m.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", m.State())
	}
	if device.ReleaseCount() != 1 {
		t.Fatalf("expected device released exactly once, got %d", device.ReleaseCount())
	}
}

func TestDiscardRequiresConfirmationMidCapture(t *testing.T) {
	clock := newFakeClock()
	device := &capture.ScriptedDevice{}
	m := newTestMachine(t, device, clock)

	ctx := context.Background()
	if err := m.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	if err := m.Discard(false); err == nil {
		t.Fatal("expected confirmation requirement while capture in progress")
	}
	if m.State() != StateRecording {
		t.Fatalf("rejected discard must not change state, got %s", m.State())
	}

	if err := m.Discard(true); err != nil {
		t.Fatalf("confirmed Discard failed: %v", err)
	}
	if m.State() != StateDiscarded {
		t.Fatalf("expected discarded state, got %s", m.State())
	}
	if device.ReleaseCount() != 1 {
		t.Fatal("discard must release the device synchronously")
	}
	if m.ChunkCount() != 0 {
		t.Fatal("discard must drop buffered chunks")
	}
}

func TestDiscardFromPreviewNeedsNoConfirmation(t *testing.T) {
	device := &capture.ScriptedDevice{}
	m := newTestMachine(t, device, newFakeClock())
	if err := m.StartPreview(context.Background()); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.Discard(false); err != nil {
		t.Fatalf("Discard from preview failed: %v", err)
	}
	if device.ReleaseCount() != 1 {
		t.Fatal("expected device released")
	}
}

func TestDirectionToggleRules(t *testing.T) {
	device := &capture.ScriptedDevice{}
	m := newTestMachine(t, device, newFakeClock())
	ctx := context.Background()

	// Legal from idle without touching the device.
	if err := m.SetDirection(ctx, capture.DirectionBack); err != nil {
		t.Fatalf("SetDirection from idle failed: %v", err)
	}
	if device.AcquireCount() != 0 {
		t.Fatal("direction change from idle must not acquire the device")
	}

	// From preview it forces a re-acquisition.
	if err := m.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.SetDirection(ctx, capture.DirectionFront); err != nil {
		t.Fatalf("SetDirection from preview failed: %v", err)
	}
	if device.AcquireCount() != 2 {
		t.Fatalf("expected re-acquisition, acquire count %d", device.AcquireCount())
	}
	if m.State() != StatePreviewActive {
		t.Fatalf("expected preview to stay active, got %s", m.State())
	}

	// Disallowed while recording.
	if err := m.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if err := m.SetDirection(ctx, capture.DirectionBack); err == nil {
		t.Fatal("expected direction toggle rejection while recording")
	}
	if m.Direction() != capture.DirectionFront {
		t.Fatalf("rejected toggle must not change direction, got %s", m.Direction())
	}
}

func TestStartRecordingClearsPreviousSession(t *testing.T) {
	clock := newFakeClock()
	device := &capture.ScriptedDevice{Script: [][]byte{[]byte("zz")}}
	m := newTestMachine(t, device, clock)
	ctx := context.Background()

	if err := m.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.StartRecording(); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	waitForChunks(t, m, 1)
	clock.Advance(10 * time.Second)
	if err := m.RecordScore("rowA", 4); err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}
	if _, err := m.Stop(stopInput()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Second capture starts clean.
	if err := m.StartPreview(ctx); err != nil {
		t.Fatalf("second StartPreview failed: %v", err)
	}
	if err := m.StartRecording(); err != nil {
		t.Fatalf("second StartRecording failed: %v", err)
	}
	if m.Elapsed() != 0 {
		t.Fatalf("expected elapsed reset, got %s", m.Elapsed())
	}
	clock.Advance(2 * time.Second)
	art, err := m.Stop(stopInput())
	if err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if len(art.ScoreEvents) != 0 {
		t.Fatalf("no events should carry over between captures, got %d", len(art.ScoreEvents))
	}
	if art.DurationSeconds != 2 {
		t.Fatalf("expected 2s duration, got %v", art.DurationSeconds)
	}
}

func TestScoreRejectedOutsideActiveSession(t *testing.T) {
	m := newTestMachine(t, &capture.ScriptedDevice{}, newFakeClock())
	if err := m.RecordScore("rowA", 3); err == nil {
		t.Fatal("expected rejection while idle")
	}
	if err := m.StartPreview(context.Background()); err != nil {
		t.Fatalf("StartPreview failed: %v", err)
	}
	if err := m.RecordTag("note", "x"); err == nil {
		t.Fatal("expected rejection during preview")
	}
}
