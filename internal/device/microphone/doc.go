// Package microphone captures audio from the host's input devices through
// PortAudio.
package microphone
