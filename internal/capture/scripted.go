package capture

import (
	"context"
	"sync"

	"slate/internal/services"
)

// ScriptedDevice replays predefined chunks instead of touching hardware.
// Tests and the demo record mode use it to drive the session state machine
// deterministically.
type ScriptedDevice struct {
	mu sync.Mutex

	// Unavailable makes Acquire fail as if the hardware were missing.
	Unavailable bool
	// Script is copied into every acquired stream.
	Script [][]byte
	// Mime is reported by acquired streams.
	Mime string

	acquired int
	released int
}

// Acquire implements Device.
func (d *ScriptedDevice) Acquire(ctx context.Context, constraints Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Unavailable {
		return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", "acquire", constraints.DevicePath, nil)
	}
	d.acquired++

	mime := d.Mime
	if mime == "" {
		mime = constraints.MimeType
	}
	chunks := make(chan Chunk, len(d.Script))
	for i, data := range d.Script {
		chunks <- Chunk{Index: i, Data: data}
	}
	return &scriptedStream{device: d, mimeType: mime, chunks: chunks}, nil
}

// AcquireCount reports how many streams were handed out.
func (d *ScriptedDevice) AcquireCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired
}

// ReleaseCount reports how many streams were closed.
func (d *ScriptedDevice) ReleaseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

type scriptedStream struct {
	device   *ScriptedDevice
	mimeType string
	chunks   chan Chunk

	closeOnce sync.Once
}

func (s *scriptedStream) Chunks() <-chan Chunk { return s.chunks }

func (s *scriptedStream) MimeType() string { return s.mimeType }

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.chunks)
		s.device.mu.Lock()
		s.device.released++
		s.device.mu.Unlock()
	})
	return nil
}

var _ Device = (*ScriptedDevice)(nil)
