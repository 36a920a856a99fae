package vad

import (
	"fmt"
	"time"
)

// Default stop policy tunables
const (
	DefaultSilenceThreshold = 0.01
	DefaultSilenceDuration  = 1800 * time.Millisecond
	DefaultSpeechTimeout    = 5000 * time.Millisecond
	DefaultMaxRecordingTime = 15000 * time.Millisecond
)

// StopReason tells why a recording session ended
type StopReason int

const (
	ReasonNone StopReason = iota
	ReasonTrailingSilence
	ReasonSpeechTimeout
	ReasonMaxDuration
	ReasonManual
	ReasonCanceled
	ReasonInputEnded
)

// String returns the label used in logs, metrics and API responses
func (r StopReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonTrailingSilence:
		return "trailing_silence"
	case ReasonSpeechTimeout:
		return "speech_timeout"
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonManual:
		return "manual"
	case ReasonCanceled:
		return "canceled"
	case ReasonInputEnded:
		return "input_ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// MarshalText encodes the reason as its label
func (r StopReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// PolicyConfig contains the stop policy tunables
type PolicyConfig struct {
	SilenceThreshold float64
	SilenceDuration  time.Duration
	SpeechTimeout    time.Duration
	MaxRecordingTime time.Duration
}

// DefaultPolicyConfig returns the default stop policy tunables
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		SilenceThreshold: DefaultSilenceThreshold,
		SilenceDuration:  DefaultSilenceDuration,
		SpeechTimeout:    DefaultSpeechTimeout,
		MaxRecordingTime: DefaultMaxRecordingTime,
	}
}

// Validate validates the stop policy tunables
func (c PolicyConfig) Validate() error {
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		return fmt.Errorf("silence threshold must be between 0 and 1, got %f", c.SilenceThreshold)
	}

	if c.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %s", c.SilenceDuration)
	}

	if c.SpeechTimeout <= 0 {
		return fmt.Errorf("speech timeout must be positive, got %s", c.SpeechTimeout)
	}

	if c.MaxRecordingTime <= 0 {
		return fmt.Errorf("max recording time must be positive, got %s", c.MaxRecordingTime)
	}

	return nil
}

// ActivityState is the per-session speech activity state. A zero
// SilenceStart means no silence is in progress.
type ActivityState struct {
	HasSpoken    bool      `json:"has_spoken"`
	LastSpeech   time.Time `json:"last_speech"`
	SilenceStart time.Time `json:"silence_start,omitempty"`
	SessionStart time.Time `json:"session_start"`
}

// InSilence reports whether a silence span is currently open
func (s ActivityState) InSilence() bool {
	return !s.SilenceStart.IsZero()
}

// Policy decides when an auto-stopping recording ends. It is driven by one
// Observe call per sampling tick and is not safe for concurrent use.
type Policy struct {
	config PolicyConfig
	state  ActivityState
	reason StopReason
}

// NewPolicy creates a stop policy for a session that started at start.
// The last speech time is bootstrapped to start, so the speech timeout also
// bounds how long the user may stay silent before saying anything.
func NewPolicy(config PolicyConfig, start time.Time) *Policy {
	return &Policy{
		config: config,
		state: ActivityState{
			LastSpeech:   start,
			SessionStart: start,
		},
	}
}

// Observe feeds one tick's volume and returns a non-None reason once the
// session should stop. After a stop, further ticks return the same reason
// without changing state.
func (p *Policy) Observe(volume float64, now time.Time) StopReason {
	if p.reason != ReasonNone {
		return p.reason
	}

	if volume >= p.config.SilenceThreshold {
		p.state.HasSpoken = true
		p.state.LastSpeech = now
		p.state.SilenceStart = time.Time{}
	} else if p.state.SilenceStart.IsZero() {
		p.state.SilenceStart = now
	}

	p.reason = p.evaluate(now)
	return p.reason
}

// evaluate applies the stop conditions in priority order
func (p *Policy) evaluate(now time.Time) StopReason {
	s := p.state

	// Trailing silence only ends an utterance that has begun
	if s.HasSpoken && s.InSilence() && now.Sub(s.SilenceStart) > p.config.SilenceDuration {
		return ReasonTrailingSilence
	}

	if now.Sub(s.LastSpeech) > p.config.SpeechTimeout {
		return ReasonSpeechTimeout
	}

	if now.Sub(s.SessionStart) > p.config.MaxRecordingTime {
		return ReasonMaxDuration
	}

	return ReasonNone
}

// State returns a copy of the activity state
func (p *Policy) State() ActivityState {
	return p.state
}

// HasSpoken reports whether speech was detected at least once
func (p *Policy) HasSpoken() bool {
	return p.state.HasSpoken
}

// KeepAudio applies the result policy: audio is only worth returning when
// the user spoke at least once, whatever ended the session.
func (p *Policy) KeepAudio() bool {
	return p.state.HasSpoken
}
