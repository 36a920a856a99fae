package recorder

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/vad-recorder/internal/audio"
	"github.com/skypro1111/vad-recorder/internal/device"
)

// scriptedDevice produces square-wave frames whose amplitude follows a
// script over audio time. Reads never sleep.
type scriptedDevice struct {
	amplitude func(at time.Duration) int16

	openErr   error
	length    time.Duration // 0 means endless
	holdAtEnd bool          // block instead of returning io.EOF at length
	gate      chan struct{} // when set, a held read ignores ctx and waits for gate
	readErr   error
	readErrAt time.Duration
	onRead    func(frames int)

	mu      sync.Mutex
	streams []*scriptedStream
}

func speechUntil(end time.Duration) func(time.Duration) int16 {
	return func(at time.Duration) int16 {
		if at < end {
			return 8000
		}
		return 0
	}
}

func alwaysSpeaking(time.Duration) int16 { return 8000 }

func neverSpeaking(time.Duration) int16 { return 0 }

func (d *scriptedDevice) Open(ctx context.Context, params device.Params) (device.Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &scriptedStream{dev: d, params: params}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *scriptedDevice) stream(i int) *scriptedStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}

func (d *scriptedDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

type scriptedStream struct {
	dev    *scriptedDevice
	params device.Params

	pos    int
	frames atomic.Int32
	closes atomic.Int32
}

func (s *scriptedStream) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closes.Load() > 0 {
		return nil, device.ErrStreamClosed
	}

	at := audio.SamplesDuration(s.pos, s.params.SampleRate)
	if s.dev.readErr != nil && at >= s.dev.readErrAt {
		return nil, s.dev.readErr
	}
	if s.dev.length > 0 && at >= s.dev.length {
		if !s.dev.holdAtEnd {
			return nil, io.EOF
		}
		if s.dev.gate != nil {
			<-s.dev.gate
			return nil, io.EOF
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	amp := s.dev.amplitude(at)
	frame := make([]int16, s.params.FrameSize)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amp
		} else {
			frame[i] = -amp
		}
	}
	s.pos += len(frame)

	n := int(s.frames.Add(1))
	if s.dev.onRead != nil {
		s.dev.onRead(n)
	}
	return frame, nil
}

func (s *scriptedStream) Close() error {
	s.closes.Add(1)
	return nil
}
