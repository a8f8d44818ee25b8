package capture

import "github.com/antoniostano/parley/internal/audio"

// Detector classifies one frame as speech or not.
type Detector interface {
	IsSpeech(frame []int16) (bool, error)
	Reset()
}

// RMSDetector is an energy detector with hysteresis: a frame louder than
// SpeechThreshold for StartFrames consecutive frames starts speech, and speech
// continues until the level drops under SilenceThreshold.
type RMSDetector struct {
	SpeechThreshold  float64
	SilenceThreshold float64
	StartFrames      int

	inSpeech bool
	loud     int
}

func NewRMSDetector() *RMSDetector {
	return &RMSDetector{
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		StartFrames:      2,
	}
}

func (d *RMSDetector) IsSpeech(frame []int16) (bool, error) {
	level := audio.RMS(frame)
	if d.inSpeech {
		if level < d.SilenceThreshold {
			d.inSpeech = false
			d.loud = 0
		}
		return d.inSpeech, nil
	}
	if level >= d.SpeechThreshold {
		d.loud++
		if d.loud >= max(d.StartFrames, 1) {
			d.inSpeech = true
		}
	} else {
		d.loud = 0
	}
	return d.inSpeech, nil
}

func (d *RMSDetector) Reset() {
	d.inSpeech = false
	d.loud = 0
}
