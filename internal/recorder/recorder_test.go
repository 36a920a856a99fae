package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/vad-recorder/internal/audio"
	"github.com/skypro1111/vad-recorder/internal/device"
	"github.com/skypro1111/vad-recorder/internal/metrics"
	"github.com/skypro1111/vad-recorder/internal/vad"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestRecorder(t *testing.T, dev device.Device) (*Recorder, *metrics.Metrics) {
	t.Helper()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := New(dev, DefaultConfig(), logger, m)
	require.NoError(t, err)
	r.clock = func() time.Time { return epoch }
	return r, m
}

func TestRecordUntilSilenceHardCap(t *testing.T) {
	dev := &scriptedDevice{amplitude: alwaysSpeaking}
	r, _ := newTestRecorder(t, dev)

	rec, err := r.RecordUntilSilence(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, vad.ReasonMaxDuration, rec.StopReason)
	assert.True(t, rec.HasSpeech)
	assert.InDelta(t, 15*time.Second, rec.StoppedAt.Sub(rec.StartedAt), float64(50*time.Millisecond))
	// The clock starts after the bootstrap interval
	assert.Equal(t, epoch.Add(DefaultBootstrapDelay), rec.StartedAt)
	assert.Equal(t, rec.StoppedAt.Sub(rec.StartedAt), rec.Duration)
	assert.Equal(t, audio.MIMETypeWAV, rec.Format)
	assert.NotEmpty(t, rec.ID)
}

func TestRecordUntilSilenceNoSpeechReturnsNil(t *testing.T) {
	dev := &scriptedDevice{amplitude: neverSpeaking}
	r, m := newTestRecorder(t, dev)

	rec, err := r.RecordUntilSilence(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Speech timeout fires on the first tick past 5000ms of kept audio
	assert.EqualValues(t, 266, dev.stream(0).frames.Load())
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NoSpeechResults))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("auto", "speech_timeout")))
}

func TestRecordUntilSilenceTrailingSilence(t *testing.T) {
	dev := &scriptedDevice{amplitude: speechUntil(2300 * time.Millisecond)}
	r, _ := newTestRecorder(t, dev)

	rec, err := r.RecordUntilSilence(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, vad.ReasonTrailingSilence, rec.StopReason)
	// Silence is detected once the analysis window has drained
	assert.InDelta(t, 3800*time.Millisecond, rec.StoppedAt.Sub(rec.StartedAt), float64(150*time.Millisecond))
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
}

func TestRecordUntilSilenceDiscardsBootstrap(t *testing.T) {
	dev := &scriptedDevice{amplitude: alwaysSpeaking}
	r, _ := newTestRecorder(t, dev)

	rec, err := r.RecordUntilSilence(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, rec.StoppedAt.Sub(rec.StartedAt), rec.Duration)

	samples, rate, err := audio.DecodeWAV(rec.Data)
	require.NoError(t, err)
	assert.Equal(t, DefaultSampleRate, rate)
	assert.Equal(t, rec.Duration, audio.SamplesDuration(len(samples), rate))
}

func TestRecordUntilSilenceInputEnded(t *testing.T) {
	dev := &scriptedDevice{amplitude: speechUntil(time.Second), length: 2500 * time.Millisecond}
	r, _ := newTestRecorder(t, dev)

	rec, err := r.RecordUntilSilence(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, vad.ReasonInputEnded, rec.StopReason)
	assert.Equal(t, 2200*time.Millisecond, rec.Duration)
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
}

func TestRecordUntilSilenceCancel(t *testing.T) {
	dev := &scriptedDevice{amplitude: alwaysSpeaking}
	r, m := newTestRecorder(t, dev)

	dev.onRead = func(frames int) {
		if frames == 50 {
			require.NoError(t, r.Cancel())
		}
	}

	rec, err := r.RecordUntilSilence(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Nil(t, rec)
	assert.EqualValues(t, 50, dev.stream(0).frames.Load())
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("auto", "canceled")))

	_, active := r.Active()
	assert.False(t, active)
}

func TestRecordUntilSilenceContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dev := &scriptedDevice{
		amplitude: alwaysSpeaking,
		onRead: func(frames int) {
			if frames == 10 {
				cancel()
			}
		},
	}
	r, _ := newTestRecorder(t, dev)

	_, err := r.RecordUntilSilence(ctx)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
}

func TestRecordUntilSilenceDeadlineKeepsCause(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	dev := &scriptedDevice{amplitude: alwaysSpeaking}
	r, m := newTestRecorder(t, dev)

	_, err := r.RecordUntilSilence(ctx)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("auto", "canceled")))
}

func TestCancelAfterPolicyFired(t *testing.T) {
	dev := &scriptedDevice{amplitude: alwaysSpeaking}
	r, m := newTestRecorder(t, dev)

	// Frame 766 trips the hard cap, so Cancel lands after the loop's last
	// context check
	dev.onRead = func(frames int) {
		if frames == 766 {
			require.NoError(t, r.Cancel())
		}
	}

	rec, err := r.RecordUntilSilence(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Nil(t, rec)
	assert.EqualValues(t, 766, dev.stream(0).frames.Load())
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("auto", "canceled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("auto", "max_duration")))
}

func TestCancelAutoSessionTwice(t *testing.T) {
	dev := &scriptedDevice{amplitude: alwaysSpeaking}
	r, _ := newTestRecorder(t, dev)

	dev.onRead = func(frames int) {
		if frames == 20 {
			require.NoError(t, r.Cancel())
			assert.ErrorIs(t, r.Cancel(), ErrNoActiveSession)
		}
	}

	_, err := r.RecordUntilSilence(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestRecordUntilSilenceReadError(t *testing.T) {
	unplugged := errors.New("device unplugged")
	dev := &scriptedDevice{amplitude: alwaysSpeaking, readErr: unplugged, readErrAt: time.Second}
	r, m := newTestRecorder(t, dev)

	rec, err := r.RecordUntilSilence(context.Background())
	assert.ErrorIs(t, err, unplugged)
	assert.Nil(t, rec)
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeviceErrors.WithLabelValues("read")))

	_, active := r.Active()
	assert.False(t, active)
}

type failingEncoder struct{ after int }

func (e *failingEncoder) Encode([]int16) error {
	e.after--
	if e.after < 0 {
		return errors.New("disk full")
	}
	return nil
}

func (e *failingEncoder) Close() error     { return nil }
func (e *failingEncoder) MimeType() string { return "audio/test" }

func TestRecordUntilSilenceEncodingFailure(t *testing.T) {
	dev := &scriptedDevice{amplitude: alwaysSpeaking}
	r, _ := newTestRecorder(t, dev)
	r.newEncoder = func(audio.Format, io.Writer, int) (audio.Encoder, error) {
		return &failingEncoder{after: 5}, nil
	}

	_, err := r.RecordUntilSilence(context.Background())
	assert.ErrorIs(t, err, ErrEncodingFailure)
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
}

func TestOpenErrorsPropagate(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		want    error
	}{
		{"permission denied", fmt.Errorf("%w: blocked by host", device.ErrPermissionDenied), ErrPermissionDenied},
		{"device unavailable", fmt.Errorf("%w: no input", device.ErrDeviceUnavailable), ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRecorder(t, &scriptedDevice{openErr: tt.openErr})

			_, err := r.RecordUntilSilence(context.Background())
			assert.ErrorIs(t, err, tt.want)

			err = r.StartRecording(context.Background())
			assert.ErrorIs(t, err, tt.want)

			_, active := r.Active()
			assert.False(t, active)
		})
	}
}

func TestManualRecording(t *testing.T) {
	dev := &scriptedDevice{amplitude: alwaysSpeaking, length: time.Second, holdAtEnd: true}
	r, _ := newTestRecorder(t, dev)

	require.NoError(t, r.StartRecording(context.Background()))
	require.Eventually(t, func() bool {
		return dev.openCount() == 1 && dev.stream(0).frames.Load() == 50
	}, time.Second, time.Millisecond)

	info, active := r.Active()
	require.True(t, active)
	assert.Equal(t, ModeManual, info.Mode)
	assert.True(t, info.HasSpoken)
	assert.Greater(t, info.PeakLevel, 0.2)
	assert.InDelta(t, info.PeakLevel, info.Level, 1e-9)
	assert.Equal(t, 100.0, info.VoicePercentage)
	assert.Positive(t, info.SizeBytes)

	rec, err := r.StopRecording(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, vad.ReasonManual, rec.StopReason)
	assert.Equal(t, time.Second, rec.Duration)
	assert.True(t, rec.HasSpeech)
	require.NoError(t, audio.ValidateWAV(rec.Data))
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())

	_, active = r.Active()
	assert.False(t, active)
}

func TestManualRecordingKeepsSilence(t *testing.T) {
	dev := &scriptedDevice{amplitude: neverSpeaking, length: 500 * time.Millisecond, holdAtEnd: true}
	r, _ := newTestRecorder(t, dev)

	require.NoError(t, r.StartRecording(context.Background()))
	require.Eventually(t, func() bool {
		return dev.stream(0).frames.Load() == 25
	}, time.Second, time.Millisecond)

	rec, err := r.StopRecording(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.HasSpeech)
	assert.Equal(t, 500*time.Millisecond, rec.Duration)
}

func TestStopRecordingWithoutSession(t *testing.T) {
	r, _ := newTestRecorder(t, &scriptedDevice{amplitude: alwaysSpeaking})

	_, err := r.StopRecording(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveSession)

	assert.ErrorIs(t, r.Cancel(), ErrNoActiveSession)
}

func TestSecondSessionRejected(t *testing.T) {
	dev := &scriptedDevice{amplitude: alwaysSpeaking, length: time.Second, holdAtEnd: true}
	r, m := newTestRecorder(t, dev)

	require.NoError(t, r.StartRecording(context.Background()))

	assert.ErrorIs(t, r.StartRecording(context.Background()), ErrSessionAlreadyActive)
	_, err := r.RecordUntilSilence(context.Background())
	assert.ErrorIs(t, err, ErrSessionAlreadyActive)
	assert.Equal(t, 1, dev.openCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsRejected.WithLabelValues("manual", "busy")))

	_, err = r.StopRecording(context.Background())
	require.NoError(t, err)

	// The slot is free again
	require.NoError(t, r.StartRecording(context.Background()))
	require.NoError(t, r.Cancel())
}

func TestCancelManualRecording(t *testing.T) {
	dev := &scriptedDevice{amplitude: alwaysSpeaking, length: time.Second, holdAtEnd: true}
	r, _ := newTestRecorder(t, dev)

	require.NoError(t, r.StartRecording(context.Background()))
	require.NoError(t, r.Cancel())

	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
	_, err := r.StopRecording(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

type countingEncoder struct {
	closes atomic.Int32
}

func (e *countingEncoder) Encode([]int16) error { return nil }
func (e *countingEncoder) Close() error         { e.closes.Add(1); return nil }
func (e *countingEncoder) MimeType() string     { return "audio/test" }

func TestStopRecordingAbandonedTearsDown(t *testing.T) {
	gate := make(chan struct{})
	dev := &scriptedDevice{amplitude: alwaysSpeaking, length: time.Second, holdAtEnd: true, gate: gate}
	r, m := newTestRecorder(t, dev)

	enc := &countingEncoder{}
	r.newEncoder = func(audio.Format, io.Writer, int) (audio.Encoder, error) {
		return enc, nil
	}

	require.NoError(t, r.StartRecording(context.Background()))
	require.Eventually(t, func() bool {
		return dev.openCount() == 1 && dev.stream(0).frames.Load() == 50
	}, time.Second, time.Millisecond)

	// The read is held at the gate and does not notice the cancel
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.StopRecording(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, active := r.Active()
	assert.True(t, active)

	close(gate)
	require.Eventually(t, func() bool {
		_, active := r.Active()
		return !active
	}, time.Second, time.Millisecond)

	assert.EqualValues(t, 1, enc.closes.Load())
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("manual", "abandoned")))
}

func TestManualRecordingReadError(t *testing.T) {
	unplugged := errors.New("device unplugged")
	dev := &scriptedDevice{amplitude: alwaysSpeaking, readErr: unplugged, readErrAt: 200 * time.Millisecond}
	r, _ := newTestRecorder(t, dev)

	require.NoError(t, r.StartRecording(context.Background()))
	require.Eventually(t, func() bool {
		return dev.stream(0).closes.Load() == 1
	}, time.Second, time.Millisecond)

	_, err := r.StopRecording(context.Background())
	assert.ErrorIs(t, err, unplugged)
	assert.EqualValues(t, 1, dev.stream(0).closes.Load())
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.SilenceThreshold = 2

	_, err := New(&scriptedDevice{}, cfg, nil, nil)
	assert.Error(t, err)

	_, err = New(nil, DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"opus at 16kHz", func(c *Config) { c.Format = audio.FormatOpus }, false},
		{"opus at 44.1kHz", func(c *Config) { c.Format = audio.FormatOpus; c.SampleRate = 44100 }, true},
		{"unknown format", func(c *Config) { c.Format = "mp3" }, true},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"sub-sample frame", func(c *Config) { c.FrameDuration = time.Microsecond }, true},
		{"empty window", func(c *Config) { c.AnalysisWindow = 0 }, true},
		{"negative bootstrap", func(c *Config) { c.BootstrapDelay = -time.Millisecond }, true},
		{"no bootstrap", func(c *Config) { c.BootstrapDelay = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
