// Package recorder owns microphone recording sessions.
//
// A Recorder runs at most one session at a time. Manual sessions are
// started and stopped explicitly. Auto sessions run a sampling loop that
// feeds every captured frame to the encoder and to a level analyser, and
// let a vad.Policy decide when to stop. Every session releases its capture
// stream exactly once, whichever way it ends.
package recorder
