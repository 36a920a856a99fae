package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/skypro1111/vad-recorder/internal/audio"
)

// inputSource describes a file replayed in place of the microphone
type inputSource struct {
	path       string
	sampleRate int
	wav        bool
}

// newInputSource inspects path. WAV files carry their own sample rate; raw
// PCM is assumed to be at defaultRate.
func newInputSource(path string, defaultRate int) (*inputSource, error) {
	src := &inputSource{
		path:       path,
		sampleRate: defaultRate,
		wav:        strings.EqualFold(filepath.Ext(path), ".wav"),
	}
	if !src.wav {
		return src, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, audio.WAVHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header from %s: %w", path, err)
	}

	info, err := audio.GetWAVInfo(header)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}
	if info.Channels != 1 || info.BitsPerSample != 16 {
		return nil, fmt.Errorf("input %s must be mono 16-bit PCM, got %d channels at %d bits",
			path, info.Channels, info.BitsPerSample)
	}

	src.sampleRate = int(info.SampleRate)
	return src, nil
}

// open returns the file positioned at the first sample
func (s *inputSource) open() (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}

	if s.wav {
		if _, err := f.Seek(audio.WAVHeaderSize, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}

	return f, nil
}
