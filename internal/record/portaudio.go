package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// PortAudio opens microphones through the PortAudio C library.
type PortAudio struct {
	log zerolog.Logger
}

// NewPortAudio returns a Device backed by PortAudio.
func NewPortAudio(log zerolog.Logger) *PortAudio {
	return &PortAudio{log: log}
}

// Open initializes PortAudio, resolves deviceID and starts a blocking input stream.
// deviceID may be empty or "default", a device index, or a (partial) device name.
func (p *PortAudio) Open(deviceID string, f Format, framesPerBuffer int) (Stream, error) {
	if f.BitDepth != 0 && f.BitDepth != 16 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrDeviceUnavailable, f.BitDepth)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init failed: %v", ErrDeviceUnavailable, err)
	}
	dev, err := findInputDevice(deviceID)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	in := make([]int16, framesPerBuffer*f.Channels)
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open stream failed: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: start stream failed: %v", ErrDeviceUnavailable, err)
	}
	p.log.Debug().Str("device", dev.Name).Float64("rate", params.SampleRate).Msg("portaudio stream open")
	return &paStream{stream: stream, in: in, log: p.log}, nil
}

type paStream struct {
	stream *portaudio.Stream
	in     []int16
	log    zerolog.Logger
}

func (s *paStream) Read(buf []int16) error {
	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return err
		}
		s.log.Debug().Msg("input overflowed")
	}
	copy(buf, s.in)
	return nil
}

func (s *paStream) Close() error {
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	termErr := portaudio.Terminate()
	return errors.Join(stopErr, closeErr, termErr)
}

func findInputDevice(id string) (*portaudio.DeviceInfo, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.EqualFold(id, "default") {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if idx, err := strconv.Atoi(id); err == nil {
		if idx < 0 || idx >= len(devices) || devices[idx].MaxInputChannels == 0 {
			return nil, fmt.Errorf("no input device at index %d", idx)
		}
		return devices[idx], nil
	}
	var partial *portaudio.DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		if d.Name == id {
			return d, nil
		}
		if partial == nil && strings.Contains(strings.ToLower(d.Name), strings.ToLower(id)) {
			partial = d
		}
	}
	if partial != nil {
		return partial, nil
	}
	return nil, fmt.Errorf("input device %q not found", id)
}

// InputDevice is one device that can record. Index is what INPUT_DEVICE accepts.
type InputDevice struct {
	Index   int
	Name    string
	Default bool
}

// InputDevices lists the devices that can record.
func InputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer portaudio.Terminate()
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()
	var out []InputDevice
	for i, d := range devices {
		if d.MaxInputChannels > 0 {
			out = append(out, InputDevice{Index: i, Name: d.Name, Default: def != nil && d.Name == def.Name})
		}
	}
	return out, nil
}
