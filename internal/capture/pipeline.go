package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"slate/internal/services"
)

var commandContext = exec.CommandContext

// Option configures the pipeline device.
type Option func(*PipelineDevice)

// WithBinary overrides the default capture pipeline binary.
func WithBinary(binary string) Option {
	return func(d *PipelineDevice) {
		if binary != "" {
			d.binary = binary
		}
	}
}

// PipelineDevice acquires a V4L2 device node and streams encoded media from
// a capture pipeline process (ffmpeg by default) reading it. The device node
// is probed before the process starts so permission problems surface as
// DeviceUnavailable instead of an opaque pipeline exit.
type PipelineDevice struct {
	binary string
}

// NewPipelineDevice constructs a device using defaults.
func NewPipelineDevice(opts ...Option) *PipelineDevice {
	d := &PipelineDevice{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Acquire implements Device.
func (d *PipelineDevice) Acquire(ctx context.Context, constraints Constraints) (Stream, error) {
	devicePath := strings.TrimSpace(constraints.DevicePath)
	if devicePath == "" {
		return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", "acquire", "no device path configured", nil)
	}
	if err := probeDeviceNode(devicePath); err != nil {
		return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", "acquire", devicePath, err)
	}

	interval := constraints.ChunkInterval
	if interval <= 0 {
		interval = time.Second
	}

	streamCtx, cancel := context.WithCancel(ctx)
	cmd := commandContext(streamCtx, d.binary, pipelineArgs(devicePath, constraints.MimeType)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", "acquire", "start pipeline", err)
	}

	stream := &pipelineStream{
		mimeType: constraints.MimeType,
		chunks:   make(chan Chunk, 16),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go stream.pump(stdout, interval)
	go func() {
		<-stream.done
		_ = cmd.Wait()
	}()
	return stream, nil
}

// probeDeviceNode opens the device non-blocking to verify it exists and the
// process has permission to use it, then closes it again immediately.
func probeDeviceNode(path string) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return unix.Close(fd)
}

func pipelineArgs(devicePath, mimeType string) []string {
	format := "webm"
	if strings.Contains(mimeType, "mp4") {
		format = "mp4"
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2", "-i", devicePath,
		"-f", format, "pipe:1",
	}
}

type pipelineStream struct {
	mimeType string
	chunks   chan Chunk
	cancel   context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

func (s *pipelineStream) Chunks() <-chan Chunk { return s.chunks }

func (s *pipelineStream) MimeType() string { return s.mimeType }

// Close releases the device synchronously: the pipeline process is signaled
// before Close returns, so no dangling hardware lock survives a discard.
func (s *pipelineStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)
	})
	return nil
}

// pump slices pipeline output into fixed-interval chunks. Bytes accumulate
// until the ticker fires; empty intervals emit nothing.
func (s *pipelineStream) pump(r io.Reader, interval time.Duration) {
	defer close(s.chunks)

	type readResult struct {
		data []byte
		err  error
	}
	reads := make(chan readResult)
	go func() {
		defer close(reads)
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case reads <- readResult{data: data}:
				case <-s.done:
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case reads <- readResult{err: err}:
					case <-s.done:
					}
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []byte
	index := 0
	flush := func() bool {
		if len(pending) == 0 {
			return true
		}
		chunk := Chunk{Index: index, Data: pending}
		pending = nil
		index++
		select {
		case s.chunks <- chunk:
			return true
		case <-s.done:
			return false
		}
	}

	for {
		select {
		case <-s.done:
			return
		case result, ok := <-reads:
			if !ok {
				flush()
				return
			}
			if result.err != nil {
				flush()
				return
			}
			pending = append(pending, result.data...)
		case <-ticker.C:
			if !flush() {
				return
			}
		}
	}
}

var _ Device = (*PipelineDevice)(nil)
