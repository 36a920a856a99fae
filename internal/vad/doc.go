// Package vad estimates speech activity from microphone audio.
// It computes an RMS loudness level over a sliding analysis window and runs
// the stop policy that decides when an auto-stopping recording should end.
package vad
