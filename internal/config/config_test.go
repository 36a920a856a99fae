package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/vad-recorder/internal/audio"
)

func TestDefaultIsValid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Fatalf("Default configuration should be valid: %v", err)
	}

	settings, err := config.RecorderSettings()
	if err != nil {
		t.Fatalf("RecorderSettings failed: %v", err)
	}

	if settings.Policy.SilenceThreshold != 0.01 {
		t.Errorf("Expected threshold 0.01, got %f", settings.Policy.SilenceThreshold)
	}
	if settings.Policy.SilenceDuration != 1800*time.Millisecond {
		t.Errorf("Expected silence duration 1800ms, got %v", settings.Policy.SilenceDuration)
	}
	if settings.Policy.SpeechTimeout != 5000*time.Millisecond {
		t.Errorf("Expected speech timeout 5000ms, got %v", settings.Policy.SpeechTimeout)
	}
	if settings.Policy.MaxRecordingTime != 15000*time.Millisecond {
		t.Errorf("Expected max recording time 15000ms, got %v", settings.Policy.MaxRecordingTime)
	}
	if settings.BootstrapDelay != 300*time.Millisecond {
		t.Errorf("Expected bootstrap delay 300ms, got %v", settings.BootstrapDelay)
	}
	if settings.Format != audio.FormatWAV {
		t.Errorf("Expected wav format, got %s", settings.Format)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(*Config) {},
		},
		{
			name:     "threshold above one",
			mutate:   func(c *Config) { c.Recorder.SilenceThreshold = 1.5 },
			errorMsg: "silence_threshold must be between 0 and 1",
		},
		{
			name:     "zero silence duration",
			mutate:   func(c *Config) { c.Recorder.SilenceDuration = 0 },
			errorMsg: "silence_duration",
		},
		{
			name:     "negative bootstrap",
			mutate:   func(c *Config) { c.Recorder.BootstrapDelay = -1 },
			errorMsg: "bootstrap_delay cannot be negative",
		},
		{
			name:     "unknown format",
			mutate:   func(c *Config) { c.Recorder.Format = "mp3" },
			errorMsg: "unsupported audio format",
		},
		{
			name:     "sample rate too low",
			mutate:   func(c *Config) { c.Audio.SampleRate = 4000 },
			errorMsg: "sample_rate must be between",
		},
		{
			name: "opus with unsupported rate",
			mutate: func(c *Config) {
				c.Recorder.Format = "opus"
				c.Audio.SampleRate = 44100
			},
			errorMsg: "recorder settings",
		},
		{
			name:     "frame too long",
			mutate:   func(c *Config) { c.Audio.FrameDuration = 500 },
			errorMsg: "frame_duration",
		},
		{
			name:     "invalid http port",
			mutate:   func(c *Config) { c.HTTP.Port = 70000 },
			errorMsg: "http port must be between 1 and 65535",
		},
		{
			name: "disabled http skips checks",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "verbose" },
			errorMsg: "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()

			if tt.errorMsg != "" {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	// Create a temporary directory for test files
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
recorder:
  silence_threshold: 0.02
  silence_duration: 1500
  speech_timeout: 4000
  max_recording_time: 20000
  bootstrap_delay: 200
  format: opus
audio:
  device: ""
  sample_rate: 48000
  frame_duration: 20
  analysis_window: 2048
http:
  enabled: true
  address: "127.0.0.1"
  port: 9000
  request_timeout: 30
logging:
  level: "debug"
  format: "json"
  output: "stdout"
`,
		},
		{
			name: "partial file keeps defaults",
			configYAML: `
recorder:
  silence_duration: 2500
`,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
recorder:
  silence_duration: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid value",
			configYAML: `
audio:
  analysis_window: 4
`,
			expectError: true,
			errorMsg:    "analysis_window must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create temporary config file
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadPartialKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("recorder:\n  speech_timeout: 7000\n"), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Recorder.GetSpeechTimeout() != 7*time.Second {
		t.Errorf("Expected overridden speech timeout 7s, got %v", config.Recorder.GetSpeechTimeout())
	}
	if config.Recorder.GetSilenceDuration() != 1800*time.Millisecond {
		t.Errorf("Expected default silence duration, got %v", config.Recorder.GetSilenceDuration())
	}
	if config.Audio.SampleRate != 16000 {
		t.Errorf("Expected default sample rate, got %d", config.Audio.SampleRate)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	rec := RecorderConfig{
		SilenceDuration:  1800,
		SpeechTimeout:    5000,
		MaxRecordingTime: 15000,
		BootstrapDelay:   300,
	}

	if rec.GetSilenceDuration() != 1800*time.Millisecond {
		t.Errorf("Expected 1.8 seconds, got %v", rec.GetSilenceDuration())
	}

	if rec.GetSpeechTimeout() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", rec.GetSpeechTimeout())
	}

	if rec.GetMaxRecordingTime() != 15*time.Second {
		t.Errorf("Expected 15 seconds, got %v", rec.GetMaxRecordingTime())
	}

	if rec.GetBootstrapDelay() != 300*time.Millisecond {
		t.Errorf("Expected 0.3 seconds, got %v", rec.GetBootstrapDelay())
	}

	audio := AudioConfig{FrameDuration: 20}
	if audio.GetFrameDuration() != 20*time.Millisecond {
		t.Errorf("Expected 20 milliseconds, got %v", audio.GetFrameDuration())
	}

	http := HTTPConfig{RequestTimeout: 30}
	if http.GetRequestTimeout() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", http.GetRequestTimeout())
	}
}
