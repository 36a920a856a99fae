package microphone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/hashicorp/go-multierror"

	"github.com/skypro1111/vad-recorder/internal/device"
)

// Info describes an input device reported by the host
type Info struct {
	Name              string  `json:"name"`
	HostAPI           string  `json:"host_api"`
	MaxInputChannels  int     `json:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	Default           bool    `json:"default"`
}

// PortAudio opens microphone streams through the PortAudio library. Every
// stream holds its own Initialize/Terminate pair, which PortAudio reference
// counts.
type PortAudio struct {
	deviceName string
	logger     *slog.Logger
}

var _ device.Device = (*PortAudio)(nil)

// NewPortAudio creates a PortAudio device. An empty name selects the host's
// default input device; otherwise the first input device whose name contains
// deviceName is used.
func NewPortAudio(logger *slog.Logger, deviceName string) *PortAudio {
	return &PortAudio{
		deviceName: deviceName,
		logger:     logger,
	}
}

// ListDevices returns the input devices known to PortAudio
func ListDevices() ([]Info, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", device.ErrDeviceUnavailable, err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", device.ErrDeviceUnavailable, err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	infos := make([]Info, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		info := Info{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           d.Name == defaultName,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Open acquires the input device and starts the capture stream
func (p *PortAudio) Open(ctx context.Context, params device.Params) (device.Stream, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", device.ErrDeviceUnavailable, err)
	}

	buf := make([]int16, params.FrameSize)
	stream, err := p.openStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, classifyOpenError(err)
	}

	p.logger.Debug("Microphone stream started",
		slog.String("device", p.describe()),
		slog.Int("sample_rate", params.SampleRate),
		slog.Int("frame_size", params.FrameSize),
	)

	return &portAudioStream{stream: stream, buf: buf, logger: p.logger}, nil
}

func (p *PortAudio) openStream(params device.Params, buf []int16) (*portaudio.Stream, error) {
	if p.deviceName == "" {
		if _, err := portaudio.DefaultInputDevice(); err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", device.ErrDeviceUnavailable, err)
		}
		stream, err := portaudio.OpenDefaultStream(1, 0, float64(params.SampleRate), len(buf), buf)
		if err != nil {
			return nil, classifyOpenError(err)
		}
		return stream, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", device.ErrDeviceUnavailable, err)
	}

	for _, d := range devices {
		if d.MaxInputChannels < 1 || !strings.Contains(d.Name, p.deviceName) {
			continue
		}
		sp := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   d,
				Channels: 1,
				Latency:  d.DefaultLowInputLatency,
			},
			SampleRate:      float64(params.SampleRate),
			FramesPerBuffer: len(buf),
		}
		stream, err := portaudio.OpenStream(sp, buf)
		if err != nil {
			return nil, classifyOpenError(err)
		}
		return stream, nil
	}

	return nil, fmt.Errorf("%w: no input device matching %q", device.ErrDeviceUnavailable, p.deviceName)
}

func (p *PortAudio) describe() string {
	if p.deviceName == "" {
		return "default"
	}
	return p.deviceName
}

// classifyOpenError maps host errors onto the package sentinels. PortAudio
// has no dedicated permission error; hosts that sandbox the microphone
// report it as an unanticipated host error mentioning permission.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", device.ErrDeviceUnavailable, err)
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []int16
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    bool
	mu        sync.Mutex
}

func (s *portAudioStream) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, device.ErrStreamClosed
	}

	if err := s.stream.Read(); err != nil {
		// An overflow drops samples but the stream keeps running
		if errors.Is(err, portaudio.InputOverflowed) {
			s.logger.Warn("Microphone input overflowed")
		} else {
			return nil, fmt.Errorf("read microphone: %w", err)
		}
	}

	frame := make([]int16, len(s.buf))
	copy(frame, s.buf)
	return frame, nil
}

func (s *portAudioStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true

		var result *multierror.Error
		if err := s.stream.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close stream: %w", err))
		}
		if err := portaudio.Terminate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("terminate portaudio: %w", err))
		}
		s.closeErr = result.ErrorOrNil()
	})
	return s.closeErr
}
