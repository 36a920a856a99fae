package vad

import (
	"fmt"
	"sync"

	"github.com/skypro1111/vad-recorder/internal/audio"
)

// Analyser keeps the most recent windowSize samples of a capture and
// estimates their loudness after every frame, the way an audio graph
// analyser node exposes its time-domain buffer.
type Analyser struct {
	threshold  float64
	windowSize int

	// Ring of byte-centered samples, pre-filled with silence
	window  []byte
	pos     int
	scratch []byte

	// Statistics
	totalFrames uint64
	voiceFrames uint64
	lastLevel   float64
	peakLevel   float64

	mu sync.RWMutex
}

// Reading is the outcome of analysing one frame.
type Reading struct {
	Level    float64 `json:"level"`     // RMS level of the analysis window
	HasVoice bool    `json:"has_voice"` // Level is at or above the threshold
	Frame    uint64  `json:"frame"`     // Index of the frame that produced the reading
}

// AnalyserStats represents analyser statistics
type AnalyserStats struct {
	WindowSize      int     `json:"window_size"`
	Threshold       float64 `json:"threshold"`
	TotalFrames     uint64  `json:"total_frames"`
	VoiceFrames     uint64  `json:"voice_frames"`
	VoicePercentage float64 `json:"voice_percentage"`
	LastLevel       float64 `json:"last_level"`
	PeakLevel       float64 `json:"peak_level"`
}

// NewAnalyser creates an analyser over a sliding window of windowSize samples
func NewAnalyser(windowSize int, threshold float64) (*Analyser, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	window := make([]byte, windowSize)
	for i := range window {
		window[i] = ByteCenter
	}

	return &Analyser{
		threshold:  threshold,
		windowSize: windowSize,
		window:     window,
	}, nil
}

// Process pushes a frame of PCM samples into the window and returns the
// level of the updated window.
func (a *Analyser) Process(samples []int16) Reading {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Only the tail of an oversized frame can remain in the window
	if len(samples) > a.windowSize {
		samples = samples[len(samples)-a.windowSize:]
	}

	a.scratch = audio.ToByteCentered(a.scratch, samples)
	for _, b := range a.scratch {
		a.window[a.pos] = b
		a.pos = (a.pos + 1) % a.windowSize
	}

	level := Level(a.window)
	hasVoice := level >= a.threshold

	a.totalFrames++
	if hasVoice {
		a.voiceFrames++
	}
	a.lastLevel = level
	if level > a.peakLevel {
		a.peakLevel = level
	}

	return Reading{
		Level:    level,
		HasVoice: hasVoice,
		Frame:    a.totalFrames - 1,
	}
}

// GetStats returns current analyser statistics
func (a *Analyser) GetStats() AnalyserStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	voicePercentage := float64(0)
	if a.totalFrames > 0 {
		voicePercentage = float64(a.voiceFrames) / float64(a.totalFrames) * 100
	}

	return AnalyserStats{
		WindowSize:      a.windowSize,
		Threshold:       a.threshold,
		TotalFrames:     a.totalFrames,
		VoiceFrames:     a.voiceFrames,
		VoicePercentage: voicePercentage,
		LastLevel:       a.lastLevel,
		PeakLevel:       a.peakLevel,
	}
}

// Reset refills the window with silence and clears statistics
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.window {
		a.window[i] = ByteCenter
	}
	a.pos = 0
	a.totalFrames = 0
	a.voiceFrames = 0
	a.lastLevel = 0
	a.peakLevel = 0
}
