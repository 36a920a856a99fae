package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recorder. All Record*
// methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Session metrics
	SessionsStarted  *prometheus.CounterVec
	SessionsFinished *prometheus.CounterVec
	SessionsRejected *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	SessionDuration  *prometheus.HistogramVec
	NoSpeechResults  prometheus.Counter

	// Audio metrics
	FramesProcessed prometheus.Counter
	VoiceFrames     prometheus.Counter
	InputLevel      prometheus.Histogram
	RecordingSize   *prometheus.HistogramVec

	// Device metrics
	DeviceErrors *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vad_recorder_sessions_started_total",
			Help: "Total number of recording sessions started",
		}, []string{"mode"}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vad_recorder_sessions_finished_total",
			Help: "Total number of recording sessions finished, by stop reason",
		}, []string{"mode", "reason"}),
		SessionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vad_recorder_sessions_rejected_total",
			Help: "Total number of recording requests rejected",
		}, []string{"mode", "error_type"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vad_recorder_active_sessions",
			Help: "Current number of active recording sessions",
		}),
		SessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vad_recorder_session_duration_seconds",
			Help:    "Captured audio duration of finished sessions",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
		}, []string{"mode"}),
		NoSpeechResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "vad_recorder_no_speech_total",
			Help: "Total number of auto sessions that ended without speech",
		}),

		// Audio metrics
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vad_recorder_frames_processed_total",
			Help: "Total number of captured frames analysed",
		}),
		VoiceFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "vad_recorder_voice_frames_total",
			Help: "Total number of analysed frames at or above the speech threshold",
		}),
		InputLevel: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vad_recorder_input_level",
			Help:    "RMS level of the analysis window per frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 11), // 0.001 to ~1
		}),
		RecordingSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vad_recorder_recording_size_bytes",
			Help:    "Size of encoded recordings returned to callers",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}, []string{"format"}),

		// Device metrics
		DeviceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vad_recorder_device_errors_total",
			Help: "Total number of capture device errors",
		}, []string{"stage"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vad_recorder_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vad_recorder_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vad_recorder_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted counts a started session and bumps the active gauge
func (m *Metrics) RecordSessionStarted(mode string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(mode).Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionFinished counts a finished session and records its duration
func (m *Metrics) RecordSessionFinished(mode, reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(mode, reason).Inc()
	m.SessionDuration.WithLabelValues(mode).Observe(durationSeconds)
	m.ActiveSessions.Dec()
}

// RecordSessionRejected counts a request that could not start a session
func (m *Metrics) RecordSessionRejected(mode, errorType string) {
	if m == nil {
		return
	}
	m.SessionsRejected.WithLabelValues(mode, errorType).Inc()
}

// RecordNoSpeech counts an auto session that produced no audio
func (m *Metrics) RecordNoSpeech() {
	if m == nil {
		return
	}
	m.NoSpeechResults.Inc()
}

// RecordFrame records the analysis of one captured frame
func (m *Metrics) RecordFrame(level float64, hasVoice bool) {
	if m == nil {
		return
	}
	m.FramesProcessed.Inc()
	if hasVoice {
		m.VoiceFrames.Inc()
	}
	m.InputLevel.Observe(level)
}

// RecordRecording records the size of a returned recording
func (m *Metrics) RecordRecording(format string, sizeBytes int) {
	if m == nil {
		return
	}
	m.RecordingSize.WithLabelValues(format).Observe(float64(sizeBytes))
}

// RecordDeviceError counts a device failure at the given stage
func (m *Metrics) RecordDeviceError(stage string) {
	if m == nil {
		return
	}
	m.DeviceErrors.WithLabelValues(stage).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
