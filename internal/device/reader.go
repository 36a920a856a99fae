package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Reader replays little-endian PCM-16 mono audio from an io.Reader as a
// capture device. It lets recordings be driven from files or pipes.
type Reader struct {
	open       func() (io.ReadCloser, error)
	sampleRate int
	realtime   bool
}

var _ Device = (*Reader)(nil)

// NewReader creates a replay device. open is called once per stream; the
// audio must already be at sampleRate. With realtime set, Read paces frames
// at capture speed instead of returning them as fast as they can be read.
func NewReader(open func() (io.ReadCloser, error), sampleRate int, realtime bool) *Reader {
	return &Reader{
		open:       open,
		sampleRate: sampleRate,
		realtime:   realtime,
	}
}

// Open starts a replay stream
func (r *Reader) Open(ctx context.Context, params Params) (Stream, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.SampleRate != r.sampleRate {
		return nil, fmt.Errorf("%w: source is %d Hz, requested %d Hz", ErrDeviceUnavailable, r.sampleRate, params.SampleRate)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := r.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s := &readerStream{
		source:   rc,
		raw:      make([]byte, params.FrameSize*2),
		frameDur: time.Duration(int64(params.FrameSize) * int64(time.Second) / int64(params.SampleRate)),
	}
	if r.realtime {
		s.ticker = time.NewTicker(s.frameDur)
	}
	return s, nil
}

type readerStream struct {
	source   io.ReadCloser
	raw      []byte
	frameDur time.Duration
	ticker   *time.Ticker

	closeOnce sync.Once
	closeErr  error
	closed    bool
	mu        sync.Mutex
}

func (s *readerStream) Read(ctx context.Context) ([]int16, error) {
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}

	n, err := io.ReadFull(s.source, s.raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// Pad the final partial frame with silence
		clear(s.raw[n:])
		err = nil
	}
	if err != nil {
		return nil, err
	}

	frame := make([]int16, len(s.raw)/2)
	for i := range frame {
		frame[i] = int16(binary.LittleEndian.Uint16(s.raw[i*2:]))
	}
	return frame, nil
}

func (s *readerStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		if s.ticker != nil {
			s.ticker.Stop()
		}
		s.closeErr = s.source.Close()
	})
	return s.closeErr
}
