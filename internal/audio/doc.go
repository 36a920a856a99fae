// Package audio handles PCM conversion, recording buffers and output encoding.
// It accumulates encoded chunks in capture order and encodes mono PCM-16
// frames into WAV or Ogg/Opus containers.
package audio
