package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of the canonical PCM WAV header
const WAVHeaderSize = 44

// MIMETypeWAV is the content type of WAV recordings
const MIMETypeWAV = "audio/wav"

// wavHeader is the canonical 44-byte RIFF/WAVE header for mono PCM-16
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func newWAVHeader(sampleRate int, dataSize uint32) wavHeader {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	return wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * channels * bitsPerSample / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// WAVEncoder streams mono PCM-16 into a WAV container. The header is written
// first with a zero data length; PatchHeader fixes the lengths once the
// whole recording has been assembled.
type WAVEncoder struct {
	w          io.Writer
	sampleRate int
	dataSize   uint32
	closed     bool
}

// NewWAVEncoder writes the WAV header to w and returns an encoder for the
// PCM payload
func NewWAVEncoder(w io.Writer, sampleRate int) (*WAVEncoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	var hdr bytes.Buffer
	if err := binary.Write(&hdr, binary.LittleEndian, newWAVHeader(sampleRate, 0)); err != nil {
		return nil, fmt.Errorf("failed to build WAV header: %w", err)
	}
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return &WAVEncoder{w: w, sampleRate: sampleRate}, nil
}

// Encode appends samples to the data chunk
func (e *WAVEncoder) Encode(samples []int16) error {
	if e.closed {
		return fmt.Errorf("WAV encoder is closed")
	}
	if len(samples) == 0 {
		return nil
	}

	if _, err := e.w.Write(PCMBytes(samples)); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	e.dataSize += uint32(len(samples) * BytesPerSample)
	return nil
}

// Close finishes the stream. WAV has no trailer, so nothing is written.
func (e *WAVEncoder) Close() error {
	e.closed = true
	return nil
}

// MimeType returns the container content type
func (e *WAVEncoder) MimeType() string {
	return MIMETypeWAV
}

// PatchHeader rewrites the RIFF and data lengths of an assembled WAV file
func (e *WAVEncoder) PatchHeader(data []byte) {
	if len(data) < WAVHeaderSize {
		return
	}
	dataSize := uint32(len(data) - WAVHeaderSize)
	binary.LittleEndian.PutUint32(data[4:8], 36+dataSize)
	binary.LittleEndian.PutUint32(data[40:44], dataSize)
}

// EncodeWAV encodes PCM-16 samples into a complete WAV file
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(samples)*BytesPerSample))
	enc, err := NewWAVEncoder(buf, sampleRate)
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(samples); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	enc.PatchHeader(out)
	return out, nil
}

// DecodeWAV decodes a mono PCM-16 WAV file back to samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	if header.NumChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	payload := data[WAVHeaderSize:]
	if int(header.Subchunk2Size) > len(payload) {
		return nil, 0, fmt.Errorf("WAV data truncated: header says %d bytes, got %d", header.Subchunk2Size, len(payload))
	}

	numSamples := int(header.Subchunk2Size) / BytesPerSample
	samples := make([]int16, numSamples)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*BytesPerSample:]))
	}

	return samples, int(header.SampleRate), nil
}

// ValidateWAV validates the WAV container markers without decoding audio
func ValidateWAV(data []byte) error {
	_, err := readWAVHeader(data)
	return err
}

func readWAVHeader(data []byte) (wavHeader, error) {
	var header wavHeader
	if len(data) < WAVHeaderSize {
		return header, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return header, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return header, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return header, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return header, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return header, nil
}

// WAVInfo describes a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return nil, err
	}

	if header.SampleRate == 0 || header.BitsPerSample == 0 {
		return nil, fmt.Errorf("invalid WAV header: sample rate %d, bits per sample %d", header.SampleRate, header.BitsPerSample)
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)
	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}
