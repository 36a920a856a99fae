package audio

import (
	"encoding/binary"
	"time"
)

// BytesPerSample is the size of one mono signed 16-bit PCM sample.
const BytesPerSample = 2

// ToByteCentered converts signed 16-bit PCM into the unsigned 8-bit
// representation used by the level estimator, where 128 is zero amplitude.
// dst is reused when it has enough capacity.
func ToByteCentered(dst []byte, samples []int16) []byte {
	if cap(dst) < len(samples) {
		dst = make([]byte, len(samples))
	}
	dst = dst[:len(samples)]

	for i, s := range samples {
		dst[i] = byte(int(s>>8) + 128)
	}

	return dst
}

// PCMBytes serializes samples as little-endian PCM-16.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// SamplesPerFrame returns how many mono samples make up one frame of the
// given duration.
func SamplesPerFrame(sampleRate int, frame time.Duration) int {
	return int(int64(sampleRate) * int64(frame) / int64(time.Second))
}

// SamplesDuration returns the playback duration of n mono samples.
func SamplesDuration(n int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}
