//go:build voice

package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/antoniostano/parley/internal/capture"
)

var (
	paMu   sync.Mutex
	paRefs int
)

func acquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
	}
	paRefs++
	return nil
}

func release() {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// Available reports whether this build can talk to local audio hardware.
func Available() bool { return true }

// Microphone reads mono PCM16 frames from a PortAudio input device.
type Microphone struct {
	// DeviceName selects an input by name. Empty uses the default device.
	DeviceName string

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

func NewMicrophone(deviceName string) *Microphone {
	return &Microphone{DeviceName: deviceName}
}

func (m *Microphone) Open(cfg capture.DeviceConfig) error {
	if err := acquire(); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.buf = make([]int16, cfg.FrameSize)
	stream, err := m.openStream(cfg)
	if err != nil {
		release()
		return fmt.Errorf("%w: open input stream: %v", capture.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return fmt.Errorf("%w: start input stream: %v", capture.ErrDeviceUnavailable, err)
	}
	m.stream = stream
	m.closed = false
	return nil
}

func (m *Microphone) openStream(cfg capture.DeviceConfig) (*portaudio.Stream, error) {
	if m.DeviceName == "" || m.DeviceName == "default" {
		return portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.FrameSize, m.buf)
	}
	dev, err := findDevice(m.DeviceName, true)
	if err != nil {
		return portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.FrameSize, m.buf)
	}
	return portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FrameSize,
	}, m.buf)
}

func (m *Microphone) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil || m.closed {
		return nil, errors.New("microphone closed")
	}
	if err := m.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, err
	}
	return append([]int16(nil), m.buf...), nil
}

func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil || m.closed {
		return nil
	}
	m.closed = true
	_ = m.stream.Stop()
	err := m.stream.Close()
	m.stream = nil
	release()
	return err
}

// Speaker writes mono PCM16 to a PortAudio output device. A stream is opened
// per clip so the device is held only while audio plays.
type Speaker struct {
	DeviceName string

	mu sync.Mutex
}

const speakerBuffer = 1024

func NewSpeaker(deviceName string) *Speaker {
	return &Speaker{DeviceName: deviceName}
}

// Play blocks until pcm has been written or ctx is done.
func (s *Speaker) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := acquire(); err != nil {
		return err
	}
	defer release()

	buf := make([]int16, speakerBuffer)
	stream, err := s.openStream(sampleRate, buf)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer stream.Stop()

	for pos := 0; pos < len(pcm); pos += len(buf) {
		if err := ctx.Err(); err != nil {
			_ = stream.Abort()
			return err
		}
		n := copy(buf, pcm[pos:])
		clear(buf[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}

func (s *Speaker) openStream(sampleRate int, buf []int16) (*portaudio.Stream, error) {
	dev, err := findDevice(s.DeviceName, false)
	if err != nil {
		return portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	}
	return portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: len(buf),
	}, buf)
}

func (s *Speaker) Close() error { return nil }

func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return nil, errors.New("no device name")
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name != name {
			continue
		}
		if input && dev.MaxInputChannels > 0 || !input && dev.MaxOutputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}
