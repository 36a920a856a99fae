package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skypro1111/vad-recorder/internal/audio"
	"github.com/skypro1111/vad-recorder/internal/device"
	"github.com/skypro1111/vad-recorder/internal/metrics"
	"github.com/skypro1111/vad-recorder/internal/vad"
)

// Recorder runs recording sessions against a capture device
type Recorder struct {
	device  device.Device
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Replaceable in tests
	clock      func() time.Time
	newEncoder func(format audio.Format, w io.Writer, sampleRate int) (audio.Encoder, error)

	mu     sync.Mutex
	active *session
}

// New creates a recorder. A nil metrics disables instrumentation.
func New(dev device.Device, config Config, logger *slog.Logger, m *metrics.Metrics) (*Recorder, error) {
	if dev == nil {
		return nil, fmt.Errorf("capture device is required")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recorder config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{
		device:     dev,
		config:     config,
		logger:     logger,
		metrics:    m,
		clock:      time.Now,
		newEncoder: audio.NewEncoder,
	}, nil
}

// Config returns the recorder settings
func (r *Recorder) Config() Config {
	return r.config
}

// StartRecording opens the device and captures in the background until
// StopRecording or Cancel. No auto-stop applies. The context only bounds
// opening the device.
func (r *Recorder) StartRecording(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())

	s, err := r.begin(ctx, ModeManual, cancel)
	if err != nil {
		cancel()
		return err
	}

	go r.runManual(loopCtx, s)
	return nil
}

// StopRecording stops the manual session, finalizes its encoding and
// returns everything captured since StartRecording
func (r *Recorder) StopRecording(ctx context.Context) (*Recording, error) {
	s, err := r.claim(ModeManual)
	if err != nil {
		return nil, err
	}

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		// Finish teardown once the loop notices the cancel
		go func() {
			<-s.done
			s.discard()
			r.end(s, "abandoned")
		}()
		return nil, ctx.Err()
	}

	if s.failure != nil {
		r.end(s, "error")
		return nil, withReleaseError(s.failure, s.release())
	}

	reason := vad.ReasonManual
	if s.endReason == vad.ReasonInputEnded {
		reason = vad.ReasonInputEnded
	}

	rec, err := r.complete(s, reason)
	if err != nil {
		r.end(s, "error")
		return nil, err
	}
	r.end(s, reason.String())
	r.metrics.RecordRecording(string(r.config.Format), len(rec.Data))
	return rec, nil
}

// RecordUntilSilence opens the device, skips the bootstrap interval, and
// records until the stop policy fires. It returns nil and no error when
// nobody spoke. The sampling loop runs on the calling goroutine.
func (r *Recorder) RecordUntilSilence(ctx context.Context) (*Recording, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := r.begin(ctx, ModeAuto, cancel)
	if err != nil {
		return nil, err
	}

	outcome := "error"
	defer func() {
		// Also runs while a panic unwinds; release is a no-op when done
		s.release()
		r.end(s, outcome)
	}()

	reason, err := r.capture(ctx, s)
	if err != nil {
		if errors.Is(err, ErrCanceled) {
			outcome = vad.ReasonCanceled.String()
		}
		return nil, withReleaseError(err, s.release())
	}

	rec, err := r.complete(s, reason)
	if err != nil {
		return nil, err
	}

	// Cancel may land after the loop stopped but before the audio is handed out
	if r.isClaimed(s) {
		outcome = vad.ReasonCanceled.String()
		return nil, ErrCanceled
	}
	outcome = reason.String()

	if s.policy == nil || !s.policy.KeepAudio() {
		r.metrics.RecordNoSpeech()
		r.logger.Info("No speech detected, discarding recording",
			slog.String("session_id", s.id),
			slog.String("reason", reason.String()))
		return nil, nil
	}

	r.metrics.RecordRecording(string(r.config.Format), len(rec.Data))
	return rec, nil
}

// Cancel aborts the active session and discards its audio. An auto session
// returns ErrCanceled from RecordUntilSilence; a manual session is torn down
// before Cancel returns.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	s := r.active
	if s == nil || s.claimed {
		r.mu.Unlock()
		return ErrNoActiveSession
	}
	s.claimed = true
	r.mu.Unlock()

	r.logger.Info("Canceling recording session", slog.String("session_id", s.id), slog.String("mode", string(s.mode)))
	s.cancel()

	if s.mode == ModeAuto {
		return nil
	}

	<-s.done
	err := s.discard()
	r.end(s, vad.ReasonCanceled.String())
	return err
}

// Active returns the active session, if any
func (r *Recorder) Active() (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return SessionInfo{}, false
	}
	return r.active.info(), true
}

// begin reserves the recorder for a new session and opens the device
func (r *Recorder) begin(ctx context.Context, mode Mode, cancel context.CancelFunc) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		r.metrics.RecordSessionRejected(string(mode), "busy")
		return nil, ErrSessionAlreadyActive
	}

	params := device.Params{SampleRate: r.config.SampleRate, FrameSize: r.config.FrameSize()}
	stream, err := r.device.Open(ctx, params)
	if err != nil {
		r.metrics.RecordDeviceError("open")
		r.metrics.RecordSessionRejected(string(mode), "device")
		r.logger.Error("Failed to open audio input", slog.String("mode", string(mode)), slog.Any("error", err))
		return nil, fmt.Errorf("failed to open audio input: %w", err)
	}

	s := &session{
		id:         uuid.New().String(),
		mode:       mode,
		startedAt:  r.clock(),
		sampleRate: r.config.SampleRate,
		stream:     stream,
		buffer:     audio.NewChunkBuffer(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if mode == ModeAuto {
		policy := r.config.Policy
		s.bootstrap = r.config.BootstrapDelay
		s.autoStop = &policy
	}

	if err := r.prepare(s); err != nil {
		s.release()
		return nil, err
	}

	r.active = s
	r.metrics.RecordSessionStarted(string(mode))
	r.logger.Info("Recording session started",
		slog.String("session_id", s.id),
		slog.String("mode", string(mode)),
		slog.String("format", string(r.config.Format)),
		slog.Int("sample_rate", r.config.SampleRate))

	return s, nil
}

// prepare creates the session encoder and analyser
func (r *Recorder) prepare(s *session) error {
	encoder, err := r.newEncoder(r.config.Format, s.buffer, r.config.SampleRate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}
	s.encoder = encoder

	analyser, err := vad.NewAnalyser(r.config.AnalysisWindow, r.config.Policy.SilenceThreshold)
	if err != nil {
		return fmt.Errorf("failed to create analyser: %w", err)
	}
	s.analyser = analyser

	return nil
}

// claim marks the active session of the given mode as being stopped
func (r *Recorder) claim(mode Mode) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.active
	if s == nil || s.mode != mode || s.claimed {
		return nil, ErrNoActiveSession
	}
	s.claimed = true
	return s, nil
}

// isClaimed reports whether Cancel or StopRecording took over s
func (r *Recorder) isClaimed(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.claimed
}

// end frees the recorder slot held by s
func (r *Recorder) end(s *session, outcome string) {
	r.mu.Lock()
	if r.active == s {
		r.active = nil
	}
	r.mu.Unlock()

	elapsed := s.elapsed()
	r.metrics.RecordSessionFinished(string(s.mode), outcome, elapsed.Seconds())
	r.logger.Info("Recording session ended",
		slog.String("session_id", s.id),
		slog.String("mode", string(s.mode)),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed))
}

// capture runs the sampling loop until the policy stops the session, the
// input ends, or the context is canceled
func (r *Recorder) capture(ctx context.Context, s *session) (vad.StopReason, error) {
	for {
		if ctx.Err() != nil {
			return vad.ReasonCanceled, canceledError(ctx)
		}

		frame, err := s.stream.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return vad.ReasonInputEnded, nil
			}
			if ctx.Err() != nil {
				return vad.ReasonCanceled, canceledError(ctx)
			}
			r.metrics.RecordDeviceError("read")
			return vad.ReasonNone, fmt.Errorf("failed to read audio frame: %w", err)
		}

		reading, reason, err := s.tick(frame)
		if err != nil {
			return vad.ReasonNone, err
		}
		if reading != nil {
			r.metrics.RecordFrame(reading.Level, reading.HasVoice)
		}

		if reason != vad.ReasonNone {
			state := s.policy.State()
			r.logger.Debug("Stop policy fired",
				slog.String("session_id", s.id),
				slog.String("reason", reason.String()),
				slog.Duration("elapsed", s.elapsed()),
				slog.Bool("has_spoken", state.HasSpoken),
				slog.Time("last_speech", state.LastSpeech))
			return reason, nil
		}
	}
}

// runManual drives a manual session until it is stopped
func (r *Recorder) runManual(ctx context.Context, s *session) {
	defer close(s.done)

	reason, err := r.capture(ctx, s)
	if err != nil && !errors.Is(err, ErrCanceled) {
		s.failure = err
		if releaseErr := s.release(); releaseErr != nil {
			s.failure = withReleaseError(err, releaseErr)
		}
		r.logger.Error("Manual recording interrupted", slog.String("session_id", s.id), slog.Any("error", err))
		return
	}
	s.endReason = reason
}

// complete finalizes a stopped session into a Recording
func (r *Recorder) complete(s *session, reason vad.StopReason) (*Recording, error) {
	data, err := s.finish()
	if err != nil {
		if data == nil {
			return nil, err
		}
		// Audio is intact; only the stream release failed
		r.logger.Warn("Failed to release audio stream", slog.String("session_id", s.id), slog.Any("error", err))
	}

	startedAt := s.recordStart
	if startedAt.IsZero() {
		startedAt = s.now()
	}

	rec := &Recording{
		ID:         s.id,
		Format:     s.encoder.MimeType(),
		Data:       data,
		StartedAt:  startedAt,
		StoppedAt:  s.now(),
		Duration:   audio.SamplesDuration(int(s.samplesEncoded.Load()), s.sampleRate),
		StopReason: reason,
		HasSpeech:  s.hasSpoken(),
	}

	r.logger.Info("Recording finalized",
		slog.String("session_id", s.id),
		slog.String("reason", reason.String()),
		slog.Duration("duration", rec.Duration),
		slog.Int("size_bytes", len(data)),
		slog.Bool("has_speech", rec.HasSpeech))

	return rec, nil
}
