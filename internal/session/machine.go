package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"slate/internal/artifact"
	"slate/internal/capture"
	"slate/internal/logging"
	"slate/internal/rubric"
	"slate/internal/services"
)

// State is the lifecycle position of a recording session.
type State string

const (
	StateIdle          State = "idle"
	StatePreviewActive State = "preview_active"
	StateRecording     State = "recording"
	StatePaused        State = "paused"
	StateStopped       State = "stopped"
	StateDiscarded     State = "discarded"
)

// Clock supplies the current time; injected for deterministic tests.
type Clock func() time.Time

// Option configures optional Machine behavior.
type Option func(*Machine)

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// StopInput carries the addressing and rubric context the packager needs
// when a session finalizes.
type StopInput struct {
	ParticipantRef string
	ClassRef       string
	Rubric         *rubric.Rubric
	LocalOnly      bool
}

// Machine owns the recording session lifecycle: idle, preview, recording,
// paused, stopped, discarded. It exclusively holds the capture device handle
// from preview until stop or discard. Session state is in-memory only;
// process death mid-recording loses the in-progress session.
type Machine struct {
	device      capture.Device
	logger      *slog.Logger
	clock       Clock
	minDuration time.Duration
	constraints capture.Constraints

	mu           sync.Mutex
	state        State
	direction    capture.Direction
	stream       capture.Stream
	collectDone  chan struct{}
	startedAt    time.Time
	segmentStart time.Time
	elapsed      time.Duration
	chunks       [][]byte
	recorder     *EventRecorder
	acquiring    bool
}

// NewMachine constructs a session machine around a capture device.
func NewMachine(device capture.Device, constraints capture.Constraints, minDuration time.Duration, logger *slog.Logger, opts ...Option) *Machine {
	direction := constraints.Direction
	if direction == "" {
		direction = capture.DirectionFront
	}
	m := &Machine{
		device:      device,
		logger:      logging.NewComponentLogger(logger, "session"),
		clock:       time.Now,
		minDuration: minDuration,
		constraints: constraints,
		state:       StateIdle,
		direction:   direction,
		recorder:    NewEventRecorder(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Direction returns the currently selected capture direction.
func (m *Machine) Direction() capture.Direction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.direction
}

// StartPreview acquires the capture device and moves Idle to PreviewActive.
// A second call while already active (or while an acquisition is underway)
// is a no-op so double-triggered UI events cannot leak device handles. On
// failure the machine remains Idle.
func (m *Machine) StartPreview(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateStopped, StateDiscarded:
	case StatePreviewActive:
		m.mu.Unlock()
		return nil
	default:
		m.mu.Unlock()
		return nil
	}
	if m.acquiring {
		m.mu.Unlock()
		return nil
	}
	m.acquiring = true
	constraints := m.constraints
	constraints.Direction = m.direction
	m.mu.Unlock()

	stream, err := m.device.Acquire(ctx, constraints)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquiring = false
	if err != nil {
		m.state = StateIdle
		m.logger.Warn("capture device acquisition failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "device_acquire_failed"),
			logging.String(logging.FieldErrorHint, "check device permissions and connections"),
		)
		return err
	}

	m.stream = stream
	m.state = StatePreviewActive

	m.logger.Info("preview started",
		logging.String(logging.FieldEventType, "preview_started"),
		logging.String("direction", string(m.direction)),
	)
	return nil
}

// StartRecording moves PreviewActive to Recording. Any data from a previous
// capture is cleared first; no session state carries over between captures.
func (m *Machine) StartRecording() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePreviewActive {
		return services.Wrap(services.ErrTransient, "session", "start recording",
			"recording can only start from an active preview", nil)
	}

	m.chunks = nil
	m.recorder = NewEventRecorder()
	m.elapsed = 0
	now := m.clock()
	m.startedAt = now
	m.segmentStart = now
	m.state = StateRecording
	if m.collectDone == nil {
		m.collectDone = make(chan struct{})
		go m.collect(m.stream, m.collectDone)
	}

	m.logger.Info("recording started", logging.String(logging.FieldEventType, "recording_started"))
	return nil
}

// Pause halts buffering and the elapsed counter while keeping the device
// handle open. Buffered chunks and recorded events are untouched.
func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRecording {
		return services.Wrap(services.ErrTransient, "session", "pause", "no active recording", nil)
	}
	m.elapsed += m.clock().Sub(m.segmentStart)
	m.state = StatePaused
	m.logger.Info("recording paused",
		logging.String(logging.FieldEventType, "recording_paused"),
		logging.Duration("elapsed", m.elapsed),
	)
	return nil
}

// Resume restarts buffering and the counter after a pause.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return services.Wrap(services.ErrTransient, "session", "resume", "session is not paused", nil)
	}
	m.segmentStart = m.clock()
	m.state = StateRecording
	m.logger.Info("recording resumed", logging.String(logging.FieldEventType, "recording_resumed"))
	return nil
}

// Elapsed returns the total active (non-paused) capture duration so far.
func (m *Machine) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsedLocked()
}

func (m *Machine) elapsedLocked() time.Duration {
	if m.state == StateRecording {
		return m.elapsed + m.clock().Sub(m.segmentStart)
	}
	return m.elapsed
}

// ChunkCount reports how many chunks have been buffered so far.
func (m *Machine) ChunkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

// RecordScore appends a scoring event at the current elapsed offset. Legal
// only while Recording or Paused.
func (m *Machine) RecordScore(rowKey string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRecording && m.state != StatePaused {
		return services.Wrap(services.ErrTransient, "session", "record score", "no active session", nil)
	}
	m.recorder.AddScore(rowKey, value, m.elapsedLocked().Seconds())
	return nil
}

// RecordTag appends a tag event at the current elapsed offset. Legal only
// while Recording or Paused.
func (m *Machine) RecordTag(kind, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRecording && m.state != StatePaused {
		return services.Wrap(services.ErrTransient, "session", "record tag", "no active session", nil)
	}
	m.recorder.AddTag(kind, value, m.elapsedLocked().Seconds())
	return nil
}

// Stop finalizes the session: it rejects captures below the minimum
// duration with ErrTooShort (leaving the machine state untouched), releases
// the device, concatenates buffered chunks, and packages the capture
// artifact. From the caller's perspective the transition is atomic: either
// an artifact is returned or the session remains recoverable.
func (m *Machine) Stop(input StopInput) (*artifact.Artifact, error) {
	m.mu.Lock()
	if m.state != StateRecording && m.state != StatePaused {
		m.mu.Unlock()
		return nil, services.Wrap(services.ErrTransient, "session", "stop", "no active recording", nil)
	}

	duration := m.elapsedLocked()
	if duration < m.minDuration {
		m.mu.Unlock()
		return nil, services.Wrap(services.ErrTooShort, "session", "stop", "capture below minimum duration", nil)
	}
	if err := artifact.ValidateRefs(input.ParticipantRef, input.ClassRef); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	if m.state == StateRecording {
		m.elapsed += m.clock().Sub(m.segmentStart)
	}
	m.state = StateStopped
	stream := m.stream
	m.stream = nil
	done := m.collectDone
	m.collectDone = nil
	m.mu.Unlock()

	mimeType := m.constraints.MimeType
	if stream != nil {
		mimeType = stream.MimeType()
		_ = stream.Close()
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	payload := concatenate(m.chunks)
	scores := m.recorder.Scores()
	tags := m.recorder.Tags()
	capturedAt := m.startedAt
	finalDuration := m.elapsed
	m.chunks = nil
	m.recorder = NewEventRecorder()
	m.elapsed = 0
	m.mu.Unlock()

	art, err := artifact.Package(artifact.PackageInput{
		Payload:         payload,
		MimeType:        mimeType,
		DurationSeconds: finalDuration.Seconds(),
		ScoreEvents:     scores,
		TagEvents:       tags,
		Rubric:          input.Rubric,
		ParticipantRef:  input.ParticipantRef,
		ClassRef:        input.ClassRef,
		CapturedAt:      capturedAt,
		LocalOnly:       input.LocalOnly,
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("session finalized",
		logging.String(logging.FieldEventType, "session_finalized"),
		logging.String(logging.FieldArtifactID, art.ClientArtifactID),
		logging.Duration("duration", finalDuration),
		logging.Int64("byte_size", art.ByteSize),
	)
	return art, nil
}

// Discard hard-cancels the session, releasing the device synchronously and
// dropping all buffered chunks and events. When a capture is in progress
// the caller must pass confirmed=true; silent data loss is not allowed.
func (m *Machine) Discard(confirmed bool) error {
	m.mu.Lock()
	if (m.state == StateRecording || m.state == StatePaused) && !confirmed {
		m.mu.Unlock()
		return errors.New("a capture is in progress; discarding requires confirmation")
	}
	stream := m.stream
	m.stream = nil
	done := m.collectDone
	m.collectDone = nil
	m.state = StateDiscarded
	m.chunks = nil
	m.recorder = NewEventRecorder()
	m.elapsed = 0
	m.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if done != nil {
		<-done
	}

	m.logger.Info("session discarded", logging.String(logging.FieldEventType, "session_discarded"))
	return nil
}

// SetDirection switches between front and back capture. Disallowed while
// Recording or Paused; from PreviewActive it forces a device re-acquisition.
func (m *Machine) SetDirection(ctx context.Context, direction capture.Direction) error {
	m.mu.Lock()
	switch m.state {
	case StateRecording, StatePaused:
		m.mu.Unlock()
		return services.Wrap(services.ErrTransient, "session", "set direction",
			"direction cannot change during an active capture", nil)
	}
	if m.direction == direction {
		m.mu.Unlock()
		return nil
	}
	m.direction = direction
	wasPreviewing := m.state == StatePreviewActive
	stream := m.stream
	m.stream = nil
	done := m.collectDone
	m.collectDone = nil
	if wasPreviewing {
		m.state = StateIdle
	}
	m.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if done != nil {
		<-done
	}
	if wasPreviewing {
		return m.StartPreview(ctx)
	}
	return nil
}

// collect buffers chunks from the stream while the machine is Recording.
// It starts with the first recording on a stream and keeps draining until
// the stream closes; chunks arriving while paused or after stop are dropped
// so the device never stalls.
func (m *Machine) collect(stream capture.Stream, done chan struct{}) {
	defer close(done)
	for chunk := range stream.Chunks() {
		m.mu.Lock()
		if m.state == StateRecording {
			m.chunks = append(m.chunks, chunk.Data)
		}
		m.mu.Unlock()
	}
}

func concatenate(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	payload := make([]byte, 0, total)
	for _, c := range chunks {
		payload = append(payload, c...)
	}
	return payload
}
