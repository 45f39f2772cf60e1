package capture

import (
	"context"
	"time"
)

// Direction selects which capture-facing device to acquire.
type Direction string

const (
	DirectionFront Direction = "front"
	DirectionBack  Direction = "back"
)

// ParseDirection converts a string into a known Direction.
func ParseDirection(value string) (Direction, bool) {
	switch Direction(value) {
	case DirectionFront:
		return DirectionFront, true
	case DirectionBack:
		return DirectionBack, true
	default:
		return "", false
	}
}

// Constraints describe the stream a caller wants from the device.
type Constraints struct {
	DevicePath    string
	Direction     Direction
	MimeType      string
	ChunkInterval time.Duration
}

// Chunk is one fixed-interval slice of encoded media.
type Chunk struct {
	Index int
	Data  []byte
}

// Stream yields encoded media chunks until closed. The stream owns the
// underlying device handle; Close releases it synchronously.
type Stream interface {
	Chunks() <-chan Chunk
	MimeType() string
	Close() error
}

// Device acquires a live media stream from local capture hardware. Acquire
// fails with a services.ErrDeviceUnavailable error when the hardware is
// missing or permission is denied.
type Device interface {
	Acquire(ctx context.Context, constraints Constraints) (Stream, error)
}
