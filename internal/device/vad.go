//go:build voice

package device

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/capture"
)

// WebRTCDetector classifies frames with the WebRTC voice activity detector.
// A frame counts as speech when any of its 10ms sub-frames does.
type WebRTCDetector struct {
	vad        *webrtcvad.VAD
	sampleRate int
	mode       int
}

func NewWebRTCDetector(sampleRate, mode int) (*WebRTCDetector, error) {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("vad: unsupported sample rate %d", sampleRate)
	}
	mode = min(max(mode, 0), 3)
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("vad: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("vad: set mode: %w", err)
	}
	return &WebRTCDetector{vad: v, sampleRate: sampleRate, mode: mode}, nil
}

func (d *WebRTCDetector) IsSpeech(frame []int16) (bool, error) {
	step := d.sampleRate / 100
	if len(frame) < step {
		padded := make([]int16, step)
		copy(padded, frame)
		frame = padded
	}
	for i := 0; i+step <= len(frame); i += step {
		active, err := d.vad.Process(d.sampleRate, audio.Int16ToBytes(frame[i:i+step]))
		if err != nil {
			return false, err
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

func (d *WebRTCDetector) Reset() {
	_ = d.vad.SetMode(d.mode)
}

// DetectorFactory returns a capture detector constructor that prefers WebRTC
// and falls back to the energy detector when the VAD cannot be created.
func DetectorFactory(sampleRate, mode int) func() capture.Detector {
	return func() capture.Detector {
		d, err := NewWebRTCDetector(sampleRate, mode)
		if err != nil {
			return capture.NewRMSDetector()
		}
		return d
	}
}
