package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/conversation"
	"github.com/antoniostano/parley/internal/logging"
	"github.com/antoniostano/parley/internal/observability"
)

var ErrDeviceUnavailable = errors.New("audio input device unavailable")

// DeviceConfig is handed to Microphone.Open.
type DeviceConfig struct {
	SampleRate       int
	FrameSize        int
	EchoCancellation bool
}

// Microphone is a source of fixed-size mono PCM16 frames.
type Microphone interface {
	Open(cfg DeviceConfig) error
	// Read blocks until the next frame is available, ctx is done or the
	// device is closed.
	Read(ctx context.Context) ([]int16, error)
	Close() error
}

type EventKind int

const (
	EventData EventKind = iota + 1
	EventSilence
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventSilence:
		return "silence"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind  EventKind
	Frame []int16
	// Speech is true on EventData when the frame was classified as speech,
	// and on EventSilence when any speech was heard before it.
	Speech bool
	Err    error
}

// Recording is the audio accumulated since Start.
type Recording struct {
	PCM            audio.PCM
	Quality        conversation.QualityMetrics
	SpeechDetected bool
}

type Options struct {
	SampleRate int
	FrameSize  int
	// SilenceDuration of continuous non-speech after speech ends the utterance.
	SilenceDuration time.Duration
	// NoSpeechTimeout ends a recording in which nobody spoke.
	NoSpeechTimeout time.Duration
	// MaxUtterance caps a single recording.
	MaxUtterance time.Duration
	QueueSize    int
	Audio        conversation.AudioConfig
	// NewDetector builds a fresh detector for each recording.
	NewDetector func() Detector
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = audio.DefaultSampleRate
	}
	if o.FrameSize <= 0 {
		o.FrameSize = o.SampleRate * 30 / 1000
	}
	if o.SilenceDuration <= 0 {
		o.SilenceDuration = 1200 * time.Millisecond
	}
	if o.NoSpeechTimeout <= 0 {
		o.NoSpeechTimeout = 8 * time.Second
	}
	if o.MaxUtterance <= 0 {
		o.MaxUtterance = 60 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 32
	}
	if o.NewDetector == nil {
		o.NewDetector = func() Detector { return NewRMSDetector() }
	}
	return o
}

// Capture reads a Microphone, tracks speech and reports the end of an
// utterance on a bounded event channel. Data events are skipped while the
// consumer is backed up; the silence event is always delivered.
type Capture struct {
	mic     Microphone
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	events  chan Event

	bufMu   sync.Mutex
	samples []int16
	speech  bool
	signal  levelStats
}

func New(mic Microphone, opts Options) *Capture {
	opts = opts.withDefaults()
	return &Capture{
		mic:     mic,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).Named("capture"),
		metrics: opts.Metrics,
	}
}

// SetAudio replaces the signal-processing flags for the next recording.
func (c *Capture) SetAudio(cfg conversation.AudioConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Audio = cfg
}

// Start opens the microphone and begins a new recording. It does nothing
// while a recording is running. Device failures are reported as
// ErrDeviceUnavailable.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	if err := c.mic.Open(DeviceConfig{
		SampleRate:       c.opts.SampleRate,
		FrameSize:        c.opts.FrameSize,
		EchoCancellation: c.opts.Audio.EchoCancellation,
	}); err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	c.bufMu.Lock()
	c.samples = c.samples[:0]
	c.speech = false
	c.signal = levelStats{}
	c.bufMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.events = make(chan Event, c.opts.QueueSize)
	c.running = true

	go c.readLoop(loopCtx, c.opts, c.events, c.done)
	return nil
}

// Events returns the channel of the current recording. It is closed when the
// recording ends.
func (c *Capture) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Stop closes the microphone and waits for the read loop to exit. It is safe
// to call at any time.
func (c *Capture) Stop() error {
	var err error
	c.mu.Lock()
	done := c.done
	if c.running {
		c.running = false
		cancel := c.cancel
		c.mu.Unlock()
		cancel()
		err = c.mic.Close()
	} else {
		c.mu.Unlock()
	}
	if done != nil {
		<-done
	}
	return err
}

func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Recording returns a copy of the audio captured since the last Start.
func (c *Capture) Recording() Recording {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	pcm := audio.PCM{
		Samples:    append([]int16(nil), c.samples...),
		SampleRate: c.opts.SampleRate,
	}
	return Recording{
		PCM:            pcm,
		Quality:        c.signal.metrics(),
		SpeechDetected: c.speech,
	}
}

func (c *Capture) readLoop(ctx context.Context, opts Options, events chan<- Event, done chan<- struct{}) {
	defer close(done)
	defer close(events)

	detector := opts.NewDetector()
	frameDur := time.Duration(opts.FrameSize) * time.Second / time.Duration(opts.SampleRate)
	var (
		heard    bool
		quietFor time.Duration
		elapsed  time.Duration
	)

	for {
		frame, err := c.mic.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("microphone read failed", zap.Error(err))
			deliver(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)})
			return
		}
		if len(frame) == 0 {
			continue
		}

		frame = process(frame, opts.Audio)
		isSpeech, err := detector.IsSpeech(frame)
		if err != nil {
			c.logger.Debug("detector error", zap.Error(err))
			isSpeech = false
		}

		c.bufMu.Lock()
		c.samples = append(c.samples, frame...)
		c.signal.add(frame, isSpeech)
		if isSpeech {
			c.speech = true
		}
		c.bufMu.Unlock()

		elapsed += frameDur
		if isSpeech {
			heard = true
			quietFor = 0
		} else {
			quietFor += frameDur
		}

		select {
		case events <- Event{Kind: EventData, Frame: frame, Speech: isSpeech}:
		default:
			c.metrics.CaptureDropped()
		}

		var reason string
		switch {
		case heard && quietFor >= opts.SilenceDuration:
			reason = "silence"
		case !heard && elapsed >= opts.NoSpeechTimeout:
			reason = "no_speech"
		case elapsed >= opts.MaxUtterance:
			reason = "max_utterance"
		}
		if reason != "" {
			c.logger.Debug("utterance ended", zap.String("reason", reason), zap.Duration("elapsed", elapsed))
			deliver(ctx, events, Event{Kind: EventSilence, Speech: heard})
			return
		}
	}
}

func deliver(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

const (
	noiseGateLevel = 0.006
	gainTargetRMS  = 0.1
	gainFloorRMS   = 0.004
	gainMax        = 4.0
)

// process applies the optional noise gate and automatic gain.
func process(frame []int16, cfg conversation.AudioConfig) []int16 {
	if !cfg.NoiseReduction && !cfg.GainControl {
		return frame
	}
	level := audio.RMS(frame)
	if cfg.NoiseReduction && level < noiseGateLevel {
		return make([]int16, len(frame))
	}
	if cfg.GainControl && level > gainFloorRMS && level < gainTargetRMS {
		return audio.Scale(frame, math.Min(gainTargetRMS/level, gainMax))
	}
	return frame
}

type levelStats struct {
	n          int
	peak       float64
	sumSquares float64
	clipped    int
	speechSq   float64
	speechN    int
	noiseSq    float64
	noiseN     int
}

func (s *levelStats) add(frame []int16, speech bool) {
	for _, v := range frame {
		f := float64(v) / 32768
		sq := f * f
		s.sumSquares += sq
		if a := math.Abs(f); a > s.peak {
			s.peak = a
		}
		if v >= 32000 || v <= -32000 {
			s.clipped++
		}
		if speech {
			s.speechSq += sq
			s.speechN++
		} else {
			s.noiseSq += sq
			s.noiseN++
		}
	}
	s.n += len(frame)
}

func (s levelStats) metrics() conversation.QualityMetrics {
	if s.n == 0 {
		return conversation.QualityMetrics{}
	}
	q := conversation.QualityMetrics{
		PeakLevel:     s.peak,
		RMSLevel:      math.Sqrt(s.sumSquares / float64(s.n)),
		ClippingRatio: float64(s.clipped) / float64(s.n),
	}
	if s.speechN > 0 && s.noiseN > 0 && s.noiseSq > 0 {
		speech := math.Sqrt(s.speechSq / float64(s.speechN))
		noise := math.Sqrt(s.noiseSq / float64(s.noiseN))
		q.SNREstimateDB = 20 * math.Log10(speech/noise)
	}
	return q
}
