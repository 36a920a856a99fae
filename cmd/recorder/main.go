package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"

	"github.com/skypro1111/vad-recorder/internal/audio"
	"github.com/skypro1111/vad-recorder/internal/config"
	"github.com/skypro1111/vad-recorder/internal/device"
	"github.com/skypro1111/vad-recorder/internal/device/microphone"
	"github.com/skypro1111/vad-recorder/internal/metrics"
	"github.com/skypro1111/vad-recorder/internal/recorder"
	"github.com/skypro1111/vad-recorder/internal/server"
)

const (
	serviceName    = "vad-recorder"
	serviceVersion = "1.0.0"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.StringP("config", "c", "", "Path to configuration file, e.g. configs/config.yaml (defaults apply when empty)")
	mode := flag.StringP("mode", "m", "auto", "Run mode: auto, manual or serve")
	output := flag.StringP("output", "o", "", "Output file for auto and manual modes, '-' for stdout")
	format := flag.StringP("format", "f", "", "Output format: wav or opus (overrides config)")
	deviceName := flag.StringP("device", "d", "", "Input device name (overrides config)")
	input := flag.StringP("input", "i", "", "Replay a WAV or raw PCM file instead of the microphone")
	realtime := flag.Bool("realtime", false, "Pace --input at capture speed")
	listDevices := flag.Bool("list-devices", false, "List input devices and exit")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	flag.Parse()

	if *listDevices {
		return printDevices()
	}

	// Load configuration
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *format != "" {
		cfg.Recorder.Format = *format
	}
	if *deviceName != "" {
		cfg.Audio.Device = *deviceName
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("mode", *mode),
		slog.String("config_path", *configPath),
	)

	settings, err := cfg.RecorderSettings()
	if err != nil {
		logger.Error("Invalid recorder settings", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("Configuration loaded",
		slog.Float64("silence_threshold", settings.Policy.SilenceThreshold),
		slog.Duration("silence_duration", settings.Policy.SilenceDuration),
		slog.Duration("speech_timeout", settings.Policy.SpeechTimeout),
		slog.Duration("max_recording_time", settings.Policy.MaxRecordingTime),
		slog.Duration("bootstrap_delay", settings.BootstrapDelay),
		slog.Int("sample_rate", settings.SampleRate),
		slog.String("format", string(settings.Format)),
	)

	// Pick the capture source
	var dev device.Device
	if *input != "" {
		src, err := newInputSource(*input, settings.SampleRate)
		if err != nil {
			logger.Error("Failed to prepare input file", slog.String("error", err.Error()))
			return 1
		}
		dev = device.NewReader(src.open, src.sampleRate, *realtime)
		logger.Info("Replaying input file", slog.String("path", *input), slog.Int("sample_rate", src.sampleRate))
	} else {
		dev = microphone.NewPortAudio(logger, cfg.Audio.Device)
	}

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	rec, err := recorder.New(dev, settings, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create recorder", slog.String("error", err.Error()))
		return 1
	}

	// Cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "auto":
		return runAuto(ctx, logger, rec, *output, settings.Format)
	case "manual":
		return runManual(ctx, logger, rec, *output, settings.Format)
	case "serve":
		return runServe(ctx, logger, cfg, rec, appMetrics, registry)
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode %q (expected auto, manual or serve)\n", *mode)
		return 2
	}
}

// runAuto records one utterance and writes it to output
func runAuto(ctx context.Context, logger *slog.Logger, rec *recorder.Recorder, output string, format audio.Format) int {
	fmt.Fprintln(os.Stderr, "Listening... speak now")

	recording, err := rec.RecordUntilSilence(ctx)
	if err != nil {
		logger.Error("Recording failed", slog.String("error", err.Error()))
		return 1
	}

	if recording == nil {
		fmt.Fprintln(os.Stderr, "No speech detected")
		return 0
	}

	return saveRecording(logger, recording, output, format)
}

// runManual records from start until Enter or a signal
func runManual(ctx context.Context, logger *slog.Logger, rec *recorder.Recorder, output string, format audio.Format) int {
	if err := rec.StartRecording(ctx); err != nil {
		logger.Error("Failed to start recording", slog.String("error", err.Error()))
		return 1
	}

	fmt.Fprintln(os.Stderr, "Recording... press Enter to stop")

	enter := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()

	select {
	case <-enter:
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recording, err := rec.StopRecording(stopCtx)
	if err != nil {
		logger.Error("Failed to stop recording", slog.String("error", err.Error()))
		return 1
	}

	return saveRecording(logger, recording, output, format)
}

// runServe exposes the HTTP control API until a shutdown signal
func runServe(ctx context.Context, logger *slog.Logger, cfg *config.Config, rec *recorder.Recorder,
	appMetrics *metrics.Metrics, registry *prometheus.Registry) int {

	if !cfg.HTTP.Enabled {
		logger.Error("Serve mode requires http.enabled")
		return 1
	}

	httpServer := server.NewHTTPServer(cfg, logger, rec, appMetrics, registry)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Release the microphone before draining requests
	if err := rec.Cancel(); err != nil && !errors.Is(err, recorder.ErrNoActiveSession) {
		logger.Error("Error canceling active recording", slog.String("error", err.Error()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
	return 0
}

// saveRecording writes the recording to path, or stdout for "-"
func saveRecording(logger *slog.Logger, recording *recorder.Recording, path string, format audio.Format) int {
	if path == "" {
		path = "recording-" + recording.StartedAt.Format("20060102-150405") + format.Extension()
	}

	var err error
	if path == "-" {
		_, err = os.Stdout.Write(recording.Data)
	} else {
		if dir := filepath.Dir(path); dir != "." {
			err = os.MkdirAll(dir, 0755)
		}
		if err == nil {
			err = os.WriteFile(path, recording.Data, 0644)
		}
	}
	if err != nil {
		logger.Error("Failed to write recording", slog.String("path", path), slog.String("error", err.Error()))
		return 1
	}

	logger.Info("Recording saved",
		slog.String("path", path),
		slog.String("id", recording.ID),
		slog.String("stop_reason", recording.StopReason.String()),
		slog.Duration("duration", recording.Duration),
		slog.Int("size_bytes", len(recording.Data)),
	)
	return 0
}

// printDevices lists microphone inputs
func printDevices() int {
	devices, err := microphone.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list devices: %v\n", err)
		return 1
	}

	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %s [%s] channels=%d rate=%.0f\n", marker, d.Name, d.HostAPI, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return 0
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Recordings may go to stdout, so logs default to stderr
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
