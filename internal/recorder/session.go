package recorder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/vad-recorder/internal/audio"
	"github.com/skypro1111/vad-recorder/internal/device"
	"github.com/skypro1111/vad-recorder/internal/vad"
)

// Mode tells how a session is stopped
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Recording is the audio captured by a finished session
type Recording struct {
	ID         string         `json:"id"`
	Format     string         `json:"format"` // MIME type of Data
	Data       []byte         `json:"-"`
	StartedAt  time.Time      `json:"started_at"` // first kept sample
	StoppedAt  time.Time      `json:"stopped_at"`
	Duration   time.Duration  `json:"duration"` // audio kept in Data
	StopReason vad.StopReason `json:"stop_reason"`
	HasSpeech  bool           `json:"has_speech"`
}

// SessionInfo describes the active session
type SessionInfo struct {
	ID        string    `json:"id"`
	Mode      Mode      `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	ElapsedMs int64     `json:"elapsed_ms"`
	HasSpoken bool      `json:"has_spoken"`
	Chunks    int       `json:"chunks"`
	SizeBytes int       `json:"size_bytes"`

	// Signal level over the frames analysed so far
	Level           float64 `json:"level"`
	PeakLevel       float64 `json:"peak_level"`
	VoicePercentage float64 `json:"voice_percentage"`
}

// session is one recording. The stream and encoder are owned exclusively by
// the session; only the capture loop touches the encoder, analyser and
// policy.
type session struct {
	id         string
	mode       Mode
	startedAt  time.Time
	sampleRate int
	bootstrap  time.Duration
	autoStop   *vad.PolicyConfig // nil for manual sessions

	// Time of the first kept sample; set by the capture loop
	recordStart time.Time

	stream   device.Stream
	encoder  audio.Encoder
	buffer   *audio.ChunkBuffer
	analyser *vad.Analyser
	policy   *vad.Policy // created on the first kept frame of an auto session

	samplesRead    atomic.Int64 // including bootstrap
	samplesEncoded atomic.Int64
	heardVoice     atomic.Bool

	cancel context.CancelFunc
	done   chan struct{} // closed when a manual capture loop exits

	// Written by the manual capture loop before done is closed
	endReason vad.StopReason
	failure   error

	claimed bool // guarded by Recorder.mu

	releaseOnce sync.Once
	releaseErr  error
}

// elapsed returns the audio time captured since the session opened
func (s *session) elapsed() time.Duration {
	return audio.SamplesDuration(int(s.samplesRead.Load()), s.sampleRate)
}

// now returns the timestamp of the most recent tick
func (s *session) now() time.Time {
	return s.startedAt.Add(s.elapsed())
}

// hasSpoken reports whether the session heard speech
func (s *session) hasSpoken() bool {
	if s.policy != nil {
		return s.policy.HasSpoken()
	}
	return s.heardVoice.Load()
}

// tick processes one captured frame and returns the stop decision. The
// reading is nil for frames dropped during bootstrap.
func (s *session) tick(frame []int16) (*vad.Reading, vad.StopReason, error) {
	frameStart := s.now()
	s.samplesRead.Add(int64(len(frame)))
	if s.elapsed() <= s.bootstrap {
		return nil, vad.ReasonNone, nil
	}

	// Session timers run from the first kept sample
	if s.recordStart.IsZero() {
		s.recordStart = frameStart
		if s.autoStop != nil {
			s.policy = vad.NewPolicy(*s.autoStop, frameStart)
		}
	}

	if err := s.encoder.Encode(frame); err != nil {
		return nil, vad.ReasonNone, fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}
	s.samplesEncoded.Add(int64(len(frame)))

	reading := s.analyser.Process(frame)
	if reading.HasVoice {
		s.heardVoice.Store(true)
	}

	if s.policy == nil {
		return &reading, vad.ReasonNone, nil
	}
	return &reading, s.policy.Observe(reading.Level, s.now()), nil
}

// release closes the capture stream once
func (s *session) release() error {
	s.releaseOnce.Do(func() {
		if s.stream != nil {
			s.releaseErr = s.stream.Close()
		}
	})
	return s.releaseErr
}

// discard tears the session down without keeping its audio
func (s *session) discard() error {
	_ = s.encoder.Close()
	s.analyser.Reset()
	err := s.release()
	s.buffer.Freeze()
	return err
}

// finish finalizes the encoder, tears down the analyser and releases the
// stream, in that order, and returns the assembled container bytes
func (s *session) finish() ([]byte, error) {
	encodeErr := s.encoder.Close()
	s.analyser.Reset()
	releaseErr := s.release()

	s.buffer.Freeze()
	data := s.buffer.Bytes()
	if p, ok := s.encoder.(audio.HeaderPatcher); ok {
		p.PatchHeader(data)
	}

	if encodeErr != nil {
		return nil, withReleaseError(fmt.Errorf("%w: %v", ErrEncodingFailure, encodeErr), releaseErr)
	}
	return data, releaseErr
}

// info returns a snapshot for status reporting
func (s *session) info() SessionInfo {
	stats := s.buffer.GetStats()
	levels := s.analyser.GetStats()
	return SessionInfo{
		ID:              s.id,
		Mode:            s.mode,
		StartedAt:       s.startedAt,
		ElapsedMs:       s.elapsed().Milliseconds(),
		HasSpoken:       s.heardVoice.Load(),
		Chunks:          stats.Chunks,
		SizeBytes:       stats.SizeBytes,
		Level:           levels.LastLevel,
		PeakLevel:       levels.PeakLevel,
		VoicePercentage: levels.VoicePercentage,
	}
}
