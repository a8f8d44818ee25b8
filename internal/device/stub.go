//go:build !voice

package device

import (
	"context"

	"github.com/antoniostano/parley/internal/capture"
)

// Available reports whether this build can talk to local audio hardware.
// Build with -tags voice to enable PortAudio.
func Available() bool { return false }

type Microphone struct {
	DeviceName string
}

func NewMicrophone(deviceName string) *Microphone {
	return &Microphone{DeviceName: deviceName}
}

func (m *Microphone) Open(capture.DeviceConfig) error {
	return capture.ErrDeviceUnavailable
}

func (m *Microphone) Read(ctx context.Context) ([]int16, error) {
	return nil, capture.ErrDeviceUnavailable
}

func (m *Microphone) Close() error { return nil }

type Speaker struct {
	DeviceName string
}

func NewSpeaker(deviceName string) *Speaker {
	return &Speaker{DeviceName: deviceName}
}

func (s *Speaker) Play(context.Context, []int16, int) error { return capture.ErrDeviceUnavailable }

func (s *Speaker) Close() error { return nil }

func DetectorFactory(int, int) func() capture.Detector {
	return func() capture.Detector { return capture.NewRMSDetector() }
}
