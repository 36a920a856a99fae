package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/vad-recorder/internal/config"
	"github.com/skypro1111/vad-recorder/internal/metrics"
	"github.com/skypro1111/vad-recorder/internal/recorder"
)

// Controller is the recorder surface driven by the API
type Controller interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*recorder.Recording, error)
	RecordUntilSilence(ctx context.Context) (*recorder.Recording, error)
	Cancel() error
	Active() (recorder.SessionInfo, bool)
}

// HTTPServer provides the recording control API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	recorder Controller
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	requestTimeout time.Duration

	// Server state
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, rec Controller,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:         logger,
		config:         appConfig,
		recorder:       rec,
		metrics:        m,
		gatherer:       gatherer,
		requestTimeout: appConfig.HTTP.GetRequestTimeout(),
		startTime:      time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: h.requestTimeout + 10*time.Second, // auto recordings hold the response open
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Recording control endpoints
	mux.HandleFunc("/recordings/auto", h.withMetrics("/recordings/auto", h.handleAuto))
	mux.HandleFunc("/recordings/start", h.withMetrics("/recordings/start", h.handleStart))
	mux.HandleFunc("/recordings/stop", h.withMetrics("/recordings/stop", h.handleStop))
	mux.HandleFunc("/recordings/cancel", h.withMetrics("/recordings/cancel", h.handleCancel))
	mux.HandleFunc("/recordings/active", h.withMetrics("/recordings/active", h.handleActive))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_, recording := h.recorder.Active()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "vad-recorder",
			"version": "1.0.0",
		},
		"recorder": map[string]interface{}{
			"recording": recording,
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleAuto implements POST /recordings/auto
func (h *HTTPServer) handleAuto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	rec, err := h.recorder.RecordUntilSilence(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if rec == nil {
		// Nobody spoke
		w.Header().Set("X-Recording-Has-Speech", "false")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeRecording(w, http.StatusOK, rec)
}

// handleStart implements POST /recordings/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.recorder.StartRecording(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	info, _ := h.recorder.Active()
	writeJSON(w, http.StatusCreated, info)
}

// handleStop implements POST /recordings/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec, err := h.recorder.StopRecording(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeRecording(w, http.StatusOK, rec)
}

// handleCancel implements POST /recordings/cancel
func (h *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.recorder.Cancel(); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleActive implements GET /recordings/active
func (h *HTTPServer) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info, ok := h.recorder.Active()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": recorder.ErrNoActiveSession.Error()})
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := map[string]interface{}{
		"recorder": map[string]interface{}{
			"silence_threshold":  h.config.Recorder.SilenceThreshold,
			"silence_duration":   h.config.Recorder.SilenceDuration,
			"speech_timeout":     h.config.Recorder.SpeechTimeout,
			"max_recording_time": h.config.Recorder.MaxRecordingTime,
			"bootstrap_delay":    h.config.Recorder.BootstrapDelay,
			"format":             h.config.Recorder.Format,
		},
		"audio": map[string]interface{}{
			"device":          h.config.Audio.Device,
			"sample_rate":     h.config.Audio.SampleRate,
			"frame_duration":  h.config.Audio.FrameDuration,
			"analysis_window": h.config.Audio.AnalysisWindow,
		},
		"http": map[string]interface{}{
			"address":         h.config.HTTP.Address,
			"port":            h.config.HTTP.Port,
			"request_timeout": h.config.HTTP.RequestTimeout,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, cfg)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "VAD Recorder",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                   "API documentation",
			"GET /health":             "Service health check",
			"GET /config":             "Get recorder configuration",
			"GET /metrics":            "Prometheus metrics",
			"POST /recordings/auto":   "Record until trailing silence and return the audio",
			"POST /recordings/start":  "Start a manual recording",
			"POST /recordings/stop":   "Stop the manual recording and return the audio",
			"POST /recordings/cancel": "Cancel the active recording",
			"GET /recordings/active":  "Describe the active recording",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

// writeError maps recorder errors to status codes
func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error("Recording request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	} else {
		h.logger.Warn("Recording request rejected",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor returns the HTTP status for a recorder error
func statusFor(err error) int {
	switch {
	// Checked first: a timed-out auto session also wraps ErrCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, recorder.ErrSessionAlreadyActive),
		errors.Is(err, recorder.ErrNoActiveSession),
		errors.Is(err, recorder.ErrCanceled):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, recorder.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeRecording writes the encoded audio with its metadata in headers
func writeRecording(w http.ResponseWriter, status int, rec *recorder.Recording) {
	header := w.Header()
	header.Set("Content-Type", rec.Format)
	header.Set("Content-Length", strconv.Itoa(len(rec.Data)))
	header.Set("X-Recording-Id", rec.ID)
	header.Set("X-Recording-Duration-Ms", strconv.FormatInt(rec.Duration.Milliseconds(), 10))
	header.Set("X-Recording-Stop-Reason", rec.StopReason.String())
	header.Set("X-Recording-Has-Speech", strconv.FormatBool(rec.HasSpeech))
	header.Set("X-Recording-Started-At", rec.StartedAt.UTC().Format(time.RFC3339Nano))

	w.WriteHeader(status)
	w.Write(rec.Data)
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
