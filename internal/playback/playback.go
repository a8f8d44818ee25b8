package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/logging"
	"github.com/antoniostano/parley/internal/synth"
)

// ErrStopped is delivered when a clip was cut short by Stop or ctx.
var ErrStopped = errors.New("playback stopped")

// Speaker plays mono PCM16. Play returns once the clip has finished or ctx
// is done, and must not hold the device after returning.
type Speaker interface {
	Play(ctx context.Context, pcm []int16, sampleRate int) error
	Close() error
}

type Settings struct {
	// Volume in [0,1]. Zero leaves the clip untouched.
	Volume float64
	// Rate scales playback speed. Zero or one plays at the native rate.
	Rate float64
}

// Controller plays one clip at a time. Starting a clip stops the previous one.
type Controller struct {
	speaker Speaker
	logger  *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	playing atomic.Bool
}

func NewController(speaker Speaker, logger *zap.Logger) *Controller {
	return &Controller{speaker: speaker, logger: logging.OrNop(logger).Named("playback")}
}

// Play decodes a and plays it in the background. The returned channel
// receives exactly one value: nil on completion, ErrStopped when cut short,
// or the decode/device error.
func (c *Controller) Play(ctx context.Context, a synth.Audio, s Settings) <-chan error {
	result := make(chan error, 1)

	pcm, err := audio.Decode(a.Data, a.MIMEType)
	if err != nil {
		result <- fmt.Errorf("decode clip: %w", err)
		close(result)
		return result
	}
	samples, rate := prepare(pcm, s)

	c.Stop()

	c.mu.Lock()
	playCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.playing.Store(true)
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		err := c.speaker.Play(playCtx, samples, rate)
		c.playing.Store(false)
		switch {
		case playCtx.Err() != nil:
			err = ErrStopped
		case err != nil:
			c.logger.Warn("speaker failed", zap.Error(err))
		}
		result <- err
		close(result)
	}()
	return result
}

// Stop cancels the current clip and waits until the speaker has released
// the device. It is safe to call at any time.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Controller) IsPlaying() bool { return c.playing.Load() }

// Close stops playback and closes the speaker.
func (c *Controller) Close() error {
	c.Stop()
	return c.speaker.Close()
}

func prepare(pcm audio.PCM, s Settings) ([]int16, int) {
	samples := pcm.Samples
	rate := pcm.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	if s.Volume > 0 && s.Volume < 1 {
		samples = audio.Scale(samples, s.Volume)
	}
	if s.Rate > 0 && s.Rate != 1 {
		target := int(float64(rate) / s.Rate)
		samples = audio.Resample(samples, rate, target)
	}
	return samples, rate
}
