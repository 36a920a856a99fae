package audio

import (
	"fmt"
	"io"
	"strings"
)

// Format names an output container
type Format string

const (
	FormatWAV  Format = "wav"
	FormatOpus Format = "opus"
)

// Encoder turns mono PCM-16 frames into a container stream written to the
// io.Writer it was created with.
type Encoder interface {
	// Encode consumes one frame of samples
	Encode(samples []int16) error
	// Close flushes buffered audio and writes any trailer
	Close() error
	// MimeType returns the content type of the produced container
	MimeType() string
}

// HeaderPatcher is implemented by encoders whose header records the payload
// length and therefore has to be fixed up once the stream is assembled.
type HeaderPatcher interface {
	PatchHeader(data []byte)
}

// ParseFormat parses a format name from configuration or flags
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatWAV:
		return FormatWAV, nil
	case FormatOpus, "ogg":
		return FormatOpus, nil
	default:
		return "", fmt.Errorf("unsupported audio format %q (expected wav or opus)", s)
	}
}

// Extension returns the file extension for the format
func (f Format) Extension() string {
	switch f {
	case FormatOpus:
		return ".ogg"
	default:
		return ".wav"
	}
}

// NewEncoder creates an encoder for format writing into w
func NewEncoder(format Format, w io.Writer, sampleRate int) (Encoder, error) {
	switch format {
	case FormatWAV:
		return NewWAVEncoder(w, sampleRate)
	case FormatOpus:
		return NewOpusEncoder(w, sampleRate)
	default:
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}
}
