package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"
)

// MIMETypeOpus is the content type of Ogg/Opus recordings
const MIMETypeOpus = "audio/ogg; codecs=opus"

const (
	opusFrameDuration = 20 * time.Millisecond
	opusClockRate     = 48000 // Ogg granule positions always count 48 kHz samples
	opusPayloadType   = 111
	maxOpusPacketSize = 4000
)

// opusSampleRates lists the input rates libopus accepts
var opusSampleRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

// ValidateOpusSampleRate reports whether libopus can encode at sampleRate
func ValidateOpusSampleRate(sampleRate int) error {
	if !opusSampleRates[sampleRate] {
		return fmt.Errorf("opus does not support sample rate %d (use 8000, 12000, 16000, 24000 or 48000)", sampleRate)
	}
	return nil
}

// OpusEncoder encodes mono PCM-16 into 20 ms Opus packets and muxes them
// into an Ogg stream. Samples that do not fill a whole packet are held
// until the next Encode or padded with silence on Close.
type OpusEncoder struct {
	encoder *opus.Encoder
	ogg     *oggwriter.OggWriter

	frameSize int // samples per packet at the input rate
	tsStep    uint32
	pending   []int16
	packet    []byte

	sequence  uint16
	timestamp uint32
	closed    bool
}

// NewOpusEncoder writes the Ogg/Opus headers to w and returns an encoder
func NewOpusEncoder(w io.Writer, sampleRate int) (*OpusEncoder, error) {
	if err := ValidateOpusSampleRate(sampleRate); err != nil {
		return nil, err
	}

	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	ogg, err := oggwriter.NewWith(w, uint32(sampleRate), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to write ogg headers: %w", err)
	}

	frameSize := SamplesPerFrame(sampleRate, opusFrameDuration)
	return &OpusEncoder{
		encoder:   enc,
		ogg:       ogg,
		frameSize: frameSize,
		tsStep:    uint32(SamplesPerFrame(opusClockRate, opusFrameDuration)),
		pending:   make([]int16, 0, frameSize*2),
		packet:    make([]byte, maxOpusPacketSize),
	}, nil
}

// Encode buffers samples and emits every complete 20 ms packet
func (e *OpusEncoder) Encode(samples []int16) error {
	if e.closed {
		return fmt.Errorf("opus encoder is closed")
	}

	e.pending = append(e.pending, samples...)
	for len(e.pending) >= e.frameSize {
		if err := e.writePacket(e.pending[:e.frameSize]); err != nil {
			return err
		}
		e.pending = append(e.pending[:0], e.pending[e.frameSize:]...)
	}
	return nil
}

func (e *OpusEncoder) writePacket(frame []int16) error {
	n, err := e.encoder.Encode(frame, e.packet)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}

	payload := make([]byte, n)
	copy(payload, e.packet[:n])

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: e.sequence,
			Timestamp:      e.timestamp,
		},
		Payload: payload,
	}
	if err := e.ogg.WriteRTP(pkt); err != nil {
		return fmt.Errorf("ogg write: %w", err)
	}

	e.sequence++
	e.timestamp += e.tsStep
	return nil
}

// Close pads and flushes the last partial packet and closes the Ogg stream
func (e *OpusEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	if len(e.pending) > 0 {
		frame := make([]int16, e.frameSize)
		copy(frame, e.pending)
		e.pending = e.pending[:0]
		if err := e.writePacket(frame); err != nil {
			e.ogg.Close()
			return err
		}
	}

	if err := e.ogg.Close(); err != nil {
		return fmt.Errorf("ogg close: %w", err)
	}
	return nil
}

// MimeType returns the container content type
func (e *OpusEncoder) MimeType() string {
	return MIMETypeOpus
}
