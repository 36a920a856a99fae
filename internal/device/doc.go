// Package device defines the capture abstraction used by the recorder.
// A Device opens exclusive Streams that deliver fixed-size frames of mono
// PCM-16 samples. Reader replays recorded PCM; the microphone subpackage
// captures from host hardware.
package device
