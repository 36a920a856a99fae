package device

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the host refused access to the microphone
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable means no usable input device could be opened
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	// ErrStreamClosed is returned by Read after the stream was closed
	ErrStreamClosed = errors.New("audio stream closed")
)

// Params describes the capture format requested from a device
type Params struct {
	SampleRate int // Hz, mono
	FrameSize  int // samples delivered by each Read
}

// Validate validates capture parameters
func (p Params) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}
	if p.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", p.FrameSize)
	}
	return nil
}

// Device is a source of microphone streams
type Device interface {
	// Open acquires the input hardware and starts capturing. Failures wrap
	// ErrPermissionDenied or ErrDeviceUnavailable.
	Open(ctx context.Context, params Params) (Stream, error)
}

// Stream is an open capture owned by a single recording session
type Stream interface {
	// Read blocks until the next frame is captured. The returned slice is
	// owned by the caller. io.EOF means the source has no more audio.
	Read(ctx context.Context) ([]int16, error)
	// Close releases the hardware. Calling Close more than once is a no-op.
	Close() error
}
