package capture

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/parley/internal/conversation"
)

const testFrame = 480

type scriptedMic struct {
	mu      sync.Mutex
	script  [][]int16
	pos     int
	loud    bool
	openErr error
	opened  int
	closed  int
	reads   int
}

func (m *scriptedMic) Open(DeviceConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened++
	m.pos = 0
	return nil
}

func (m *scriptedMic) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.pos < len(m.script) {
		f := m.script[m.pos]
		m.pos++
		return f, nil
	}
	if m.loud {
		return tone(8000), nil
	}
	return make([]int16, testFrame), nil
}

func (m *scriptedMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func tone(amplitude float64) []int16 {
	f := make([]int16, testFrame)
	for i := range f {
		f[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return f
}

func speechFrames(n int) [][]int16 {
	out := make([][]int16, n)
	for i := range out {
		out[i] = tone(8000)
	}
	return out
}

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event channel not closed")
		}
	}
}

func TestSilenceAfterSpeechFiresOnce(t *testing.T) {
	mic := &scriptedMic{script: speechFrames(10)}
	c := New(mic, Options{SilenceDuration: 300 * time.Millisecond, QueueSize: 1024})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	events := drain(t, c.Events())

	silences := 0
	for _, ev := range events {
		if ev.Kind == EventSilence {
			silences++
			if !ev.Speech {
				t.Fatalf("silence event Speech = false, want true")
			}
		}
	}
	if silences != 1 {
		t.Fatalf("silence events = %d, want 1", silences)
	}
	if last := events[len(events)-1]; last.Kind != EventSilence {
		t.Fatalf("last event = %v, want silence", last.Kind)
	}

	rec := c.Recording()
	if !rec.SpeechDetected {
		t.Fatalf("SpeechDetected = false")
	}
	// 10 speech frames plus 300ms (10 frames of 30ms) of quiet.
	if got, want := len(rec.PCM.Samples), 20*testFrame; got != want {
		t.Fatalf("len(Samples) = %d, want %d", got, want)
	}
	if rec.Quality.PeakLevel <= 0 || rec.Quality.RMSLevel <= 0 {
		t.Fatalf("quality metrics not computed: %+v", rec.Quality)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if mic.closed != 1 {
		t.Fatalf("mic closed %d times, want 1", mic.closed)
	}
}

func TestNoSpeechTimeout(t *testing.T) {
	mic := &scriptedMic{}
	c := New(mic, Options{NoSpeechTimeout: 600 * time.Millisecond, QueueSize: 1024})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	events := drain(t, c.Events())
	last := events[len(events)-1]
	if last.Kind != EventSilence || last.Speech {
		t.Fatalf("last event = %+v, want silence without speech", last)
	}
	if c.Recording().SpeechDetected {
		t.Fatalf("SpeechDetected = true on a silent recording")
	}
	_ = c.Stop()
}

func TestStartReportsDeviceUnavailable(t *testing.T) {
	c := New(&scriptedMic{openErr: errors.New("permission denied")}, Options{})
	err := c.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start() error = %v, want ErrDeviceUnavailable", err)
	}
	if c.Active() {
		t.Fatalf("Active() = true after failed start")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() after failed start error = %v", err)
	}
}

func TestBackpressureSkipsDataButKeepsAudio(t *testing.T) {
	mic := &scriptedMic{script: speechFrames(40)}
	c := New(mic, Options{SilenceDuration: 300 * time.Millisecond, QueueSize: 2})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Let the loop run ahead of the consumer until it blocks on the silence event.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mic.mu.Lock()
		reads := mic.reads
		mic.mu.Unlock()
		if reads >= 50 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	events := drain(t, c.Events())
	if len(events) >= 50 {
		t.Fatalf("received %d events, expected data events to be skipped", len(events))
	}
	if events[len(events)-1].Kind != EventSilence {
		t.Fatalf("silence event lost under backpressure")
	}
	if got, want := len(c.Recording().PCM.Samples), 50*testFrame; got != want {
		t.Fatalf("len(Samples) = %d, want %d", got, want)
	}
	_ = c.Stop()
}

func TestStopWhileRunning(t *testing.T) {
	mic := &scriptedMic{loud: true}
	c := New(mic, Options{QueueSize: 4})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v, want nil", err)
	}
	mic.mu.Lock()
	opened := mic.opened
	mic.mu.Unlock()
	if opened != 1 {
		t.Fatalf("mic opened %d times, want 1", opened)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.Active() {
		t.Fatalf("Active() = true after Stop")
	}
	// Channel must be closed once the loop has exited.
	drain(t, c.Events())
}

func TestProcessNoiseGateAndGain(t *testing.T) {
	quiet := tone(100)
	gated := process(quiet, conversation.AudioConfig{NoiseReduction: true})
	for _, s := range gated {
		if s != 0 {
			t.Fatalf("noise gate left sample %d", s)
		}
	}

	soft := tone(1000)
	boosted := process(soft, conversation.AudioConfig{GainControl: true})
	if peakOf(boosted) <= peakOf(soft) {
		t.Fatalf("gain control did not raise level")
	}

	loud := tone(8000)
	if got := process(loud, conversation.AudioConfig{GainControl: true, NoiseReduction: true}); peakOf(got) != peakOf(loud) {
		t.Fatalf("loud frame should pass unchanged")
	}
}

func peakOf(f []int16) int {
	p := 0
	for _, s := range f {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > p {
			p = v
		}
	}
	return p
}

func TestRMSDetectorHysteresis(t *testing.T) {
	d := NewRMSDetector()
	loud := tone(8000)
	quiet := make([]int16, testFrame)

	if got, _ := d.IsSpeech(loud); got {
		t.Fatalf("speech started after one frame, want %d", d.StartFrames)
	}
	if got, _ := d.IsSpeech(loud); !got {
		t.Fatalf("speech not started after two loud frames")
	}
	if got, _ := d.IsSpeech(quiet); got {
		t.Fatalf("speech continued through silence")
	}
	d.Reset()
	if got, _ := d.IsSpeech(loud); got {
		t.Fatalf("Reset() did not clear state")
	}
}
