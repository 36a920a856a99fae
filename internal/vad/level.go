package vad

import "math"

// ByteCenter is the value of a byte-centered sample at zero amplitude.
const ByteCenter = 128

// Level returns the loudness of a window of byte-centered samples as the
// root-mean-square deviation from ByteCenter, normalized by the maximum
// possible deviation. The result is in [0, 1]; an empty window is silent.
func Level(window []byte) float64 {
	if len(window) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range window {
		d := float64(int(sample) - ByteCenter)
		sum += d * d
	}

	return math.Sqrt(sum/float64(len(window))) / ByteCenter
}
