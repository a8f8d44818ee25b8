package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/capture"
	"github.com/antoniostano/parley/internal/observability"
	"github.com/antoniostano/parley/internal/protocol"
)

var errClientGone = errors.New("websocket client disconnected")

// playbackGrace is how long past a clip's duration the speaker waits for the
// client's playback_done before treating the clip as played.
const playbackGrace = 2 * time.Second

// clientLink is the audio path between an engine and the websocket client of
// its session. The engine sees it as a microphone and a speaker; both report
// the device as unavailable while no client is connected.
type clientLink struct {
	sessionID string
	metrics   *observability.Metrics

	mu   sync.Mutex
	out  chan<- any
	gone chan struct{}

	micOpen    bool
	frameSize  int
	sampleRate int
	pending    []int16
	frames     chan []int16

	seq  int
	acks chan int
}

func newClientLink(sessionID string, metrics *observability.Metrics) *clientLink {
	return &clientLink{
		sessionID: sessionID,
		metrics:   metrics,
		acks:      make(chan int, 8),
	}
}

// attach connects an outbound queue. Only one client may be attached.
func (l *clientLink) attach(out chan<- any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil {
		return false
	}
	l.out = out
	l.gone = make(chan struct{})
	return true
}

func (l *clientLink) detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}
	l.out = nil
	close(l.gone)
}

// push feeds client audio into the open microphone. Audio that arrives while
// the engine is not listening is discarded.
func (l *clientLink) push(samples []int16, rate int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.micOpen {
		l.metrics.Event("client_audio_discarded")
		return
	}
	if rate != l.sampleRate {
		samples = audio.Resample(samples, rate, l.sampleRate)
	}
	l.pending = append(l.pending, samples...)
	for len(l.pending) >= l.frameSize {
		frame := make([]int16, l.frameSize)
		copy(frame, l.pending)
		l.pending = l.pending[l.frameSize:]
		select {
		case l.frames <- frame:
		default:
			l.metrics.CaptureDropped()
		}
	}
}

func (l *clientLink) ack(seq int) {
	select {
	case l.acks <- seq:
	default:
	}
}

func (l *clientLink) microphone() *wsMicrophone { return &wsMicrophone{l} }
func (l *clientLink) speaker() *wsSpeaker       { return &wsSpeaker{l} }

type wsMicrophone struct{ l *clientLink }

func (m *wsMicrophone) Open(cfg capture.DeviceConfig) error {
	l := m.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return fmt.Errorf("%w: no client connected", capture.ErrDeviceUnavailable)
	}
	l.micOpen = true
	l.frameSize = max(cfg.FrameSize, 1)
	l.sampleRate = cfg.SampleRate
	l.pending = l.pending[:0]
	l.frames = make(chan []int16, 64)
	return nil
}

func (m *wsMicrophone) Read(ctx context.Context) ([]int16, error) {
	l := m.l
	l.mu.Lock()
	frames, gone := l.frames, l.gone
	l.mu.Unlock()
	if frames == nil {
		return nil, capture.ErrDeviceUnavailable
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-gone:
		return nil, errClientGone
	case f := <-frames:
		return f, nil
	}
}

func (m *wsMicrophone) Close() error {
	l := m.l
	l.mu.Lock()
	defer l.mu.Unlock()
	l.micOpen = false
	l.frames = nil
	l.pending = nil
	return nil
}

type wsSpeaker struct{ l *clientLink }

// Play sends the clip to the client and waits for its playback_done.
func (s *wsSpeaker) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	l := s.l
	l.mu.Lock()
	out, gone := l.out, l.gone
	l.seq++
	seq := l.seq
	l.mu.Unlock()
	if out == nil {
		return errClientGone
	}

	msg := protocol.AssistantAudio{
		Type:        protocol.TypeAssistantAudio,
		SessionID:   l.sessionID,
		Seq:         seq,
		Format:      "pcm16",
		SampleRate:  sampleRate,
		AudioBase64: base64.StdEncoding.EncodeToString(audio.Int16ToBytes(pcm)),
	}
	select {
	case out <- msg:
	case <-gone:
		return errClientGone
	case <-ctx.Done():
		return ctx.Err()
	}

	clip := audio.PCM{Samples: pcm, SampleRate: sampleRate}.Duration()
	timer := time.NewTimer(clip + playbackGrace)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gone:
			return errClientGone
		case <-timer.C:
			l.metrics.Event("playback_ack_timeout")
			return nil
		case n := <-l.acks:
			if n >= seq {
				return nil
			}
		}
	}
}

func (s *wsSpeaker) Close() error { return nil }
