package recorder

import (
	"fmt"
	"time"

	"github.com/skypro1111/vad-recorder/internal/audio"
	"github.com/skypro1111/vad-recorder/internal/vad"
)

// Default capture settings
const (
	DefaultSampleRate     = 16000
	DefaultFrameDuration  = 20 * time.Millisecond
	DefaultAnalysisWindow = 1024
	DefaultBootstrapDelay = 300 * time.Millisecond
)

// Config contains recorder settings
type Config struct {
	Policy         vad.PolicyConfig
	SampleRate     int
	FrameDuration  time.Duration // one sampling tick
	AnalysisWindow int           // samples fed to the level estimator
	BootstrapDelay time.Duration // audio discarded when an auto session opens
	Format         audio.Format
}

// DefaultConfig returns the default recorder settings
func DefaultConfig() Config {
	return Config{
		Policy:         vad.DefaultPolicyConfig(),
		SampleRate:     DefaultSampleRate,
		FrameDuration:  DefaultFrameDuration,
		AnalysisWindow: DefaultAnalysisWindow,
		BootstrapDelay: DefaultBootstrapDelay,
		Format:         audio.FormatWAV,
	}
}

// Validate validates recorder settings
func (c Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}

	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}

	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame duration must be positive, got %s", c.FrameDuration)
	}

	if c.FrameSize() < 1 {
		return fmt.Errorf("frame duration %s is shorter than one sample at %d Hz", c.FrameDuration, c.SampleRate)
	}

	if c.AnalysisWindow < 1 {
		return fmt.Errorf("analysis window must be at least 1 sample, got %d", c.AnalysisWindow)
	}

	if c.BootstrapDelay < 0 {
		return fmt.Errorf("bootstrap delay cannot be negative, got %s", c.BootstrapDelay)
	}

	switch c.Format {
	case audio.FormatWAV:
	case audio.FormatOpus:
		if err := audio.ValidateOpusSampleRate(c.SampleRate); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported format %q", c.Format)
	}

	return nil
}

// FrameSize returns the number of samples captured per tick
func (c Config) FrameSize() int {
	return audio.SamplesPerFrame(c.SampleRate, c.FrameDuration)
}
