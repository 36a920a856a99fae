package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/vad-recorder/internal/audio"
	"github.com/skypro1111/vad-recorder/internal/recorder"
	"github.com/skypro1111/vad-recorder/internal/vad"
)

// Config represents the complete recorder configuration
type Config struct {
	Recorder RecorderConfig `yaml:"recorder"`
	Audio    AudioConfig    `yaml:"audio"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RecorderConfig contains the auto-stop tunables and output format
type RecorderConfig struct {
	SilenceThreshold float64 `yaml:"silence_threshold"`  // normalized RMS level
	SilenceDuration  int     `yaml:"silence_duration"`   // milliseconds
	SpeechTimeout    int     `yaml:"speech_timeout"`     // milliseconds
	MaxRecordingTime int     `yaml:"max_recording_time"` // milliseconds
	BootstrapDelay   int     `yaml:"bootstrap_delay"`    // milliseconds
	Format           string  `yaml:"format"`
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	Device         string `yaml:"device"` // empty selects the default input
	SampleRate     int    `yaml:"sample_rate"`
	FrameDuration  int    `yaml:"frame_duration"`  // milliseconds
	AnalysisWindow int    `yaml:"analysis_window"` // samples
}

// HTTPConfig contains HTTP control API configuration
type HTTPConfig struct {
	Port           int    `yaml:"port"`
	Address        string `yaml:"address"`
	Enabled        bool   `yaml:"enabled"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Recorder: RecorderConfig{
			SilenceThreshold: vad.DefaultSilenceThreshold,
			SilenceDuration:  int(vad.DefaultSilenceDuration / time.Millisecond),
			SpeechTimeout:    int(vad.DefaultSpeechTimeout / time.Millisecond),
			MaxRecordingTime: int(vad.DefaultMaxRecordingTime / time.Millisecond),
			BootstrapDelay:   int(recorder.DefaultBootstrapDelay / time.Millisecond),
			Format:           string(audio.FormatWAV),
		},
		Audio: AudioConfig{
			SampleRate:     recorder.DefaultSampleRate,
			FrameDuration:  int(recorder.DefaultFrameDuration / time.Millisecond),
			AnalysisWindow: recorder.DefaultAnalysisWindow,
		},
		HTTP: HTTPConfig{
			Port:           8090,
			Address:        "127.0.0.1",
			Enabled:        true,
			RequestTimeout: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	// Cross-section checks
	if _, err := c.RecorderSettings(); err != nil {
		return err
	}

	return nil
}

// Validate validates recorder configuration
func (r *RecorderConfig) Validate() error {
	if r.SilenceThreshold < 0 || r.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", r.SilenceThreshold)
	}

	if r.SilenceDuration < 1 {
		return fmt.Errorf("silence_duration must be at least 1 ms, got %d", r.SilenceDuration)
	}

	if r.SpeechTimeout < 1 {
		return fmt.Errorf("speech_timeout must be at least 1 ms, got %d", r.SpeechTimeout)
	}

	if r.MaxRecordingTime < 1 {
		return fmt.Errorf("max_recording_time must be at least 1 ms, got %d", r.MaxRecordingTime)
	}

	if r.BootstrapDelay < 0 {
		return fmt.Errorf("bootstrap_delay cannot be negative, got %d", r.BootstrapDelay)
	}

	if _, err := audio.ParseFormat(r.Format); err != nil {
		return fmt.Errorf("format: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.FrameDuration < 5 || a.FrameDuration > 100 {
		return fmt.Errorf("frame_duration must be between 5 and 100 ms, got %d", a.FrameDuration)
	}

	if a.AnalysisWindow < 32 || a.AnalysisWindow > 32768 {
		return fmt.Errorf("analysis_window must be between 32 and 32768 samples, got %d", a.AnalysisWindow)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}

		if h.RequestTimeout < 1 {
			return fmt.Errorf("request_timeout must be at least 1 second, got %d", h.RequestTimeout)
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// RecorderSettings converts the file configuration into recorder settings
func (c *Config) RecorderSettings() (recorder.Config, error) {
	format, err := audio.ParseFormat(c.Recorder.Format)
	if err != nil {
		return recorder.Config{}, err
	}

	settings := recorder.Config{
		Policy: vad.PolicyConfig{
			SilenceThreshold: c.Recorder.SilenceThreshold,
			SilenceDuration:  c.Recorder.GetSilenceDuration(),
			SpeechTimeout:    c.Recorder.GetSpeechTimeout(),
			MaxRecordingTime: c.Recorder.GetMaxRecordingTime(),
		},
		SampleRate:     c.Audio.SampleRate,
		FrameDuration:  c.Audio.GetFrameDuration(),
		AnalysisWindow: c.Audio.AnalysisWindow,
		BootstrapDelay: c.Recorder.GetBootstrapDelay(),
		Format:         format,
	}

	if err := settings.Validate(); err != nil {
		return recorder.Config{}, fmt.Errorf("recorder settings: %w", err)
	}

	return settings, nil
}

// GetSilenceDuration returns the trailing silence limit as a time.Duration
func (r *RecorderConfig) GetSilenceDuration() time.Duration {
	return time.Duration(r.SilenceDuration) * time.Millisecond
}

// GetSpeechTimeout returns the speech timeout as a time.Duration
func (r *RecorderConfig) GetSpeechTimeout() time.Duration {
	return time.Duration(r.SpeechTimeout) * time.Millisecond
}

// GetMaxRecordingTime returns the hard cap as a time.Duration
func (r *RecorderConfig) GetMaxRecordingTime() time.Duration {
	return time.Duration(r.MaxRecordingTime) * time.Millisecond
}

// GetBootstrapDelay returns the bootstrap delay as a time.Duration
func (r *RecorderConfig) GetBootstrapDelay() time.Duration {
	return time.Duration(r.BootstrapDelay) * time.Millisecond
}

// GetFrameDuration returns the capture frame duration as a time.Duration
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameDuration) * time.Millisecond
}

// GetRequestTimeout returns the HTTP request timeout as a time.Duration
func (h *HTTPConfig) GetRequestTimeout() time.Duration {
	return time.Duration(h.RequestTimeout) * time.Second
}
