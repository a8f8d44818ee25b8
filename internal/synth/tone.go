package synth

import (
	"context"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/antoniostano/parley/internal/audio"
)

// ToneBackend renders text as a short melody, one tone per word. It needs no
// network or binaries and stands in for speech in offline and demo mode.
type ToneBackend struct {
	SampleRate int
}

func NewToneBackend() *ToneBackend { return &ToneBackend{SampleRate: audio.DefaultSampleRate} }

func (b *ToneBackend) Name() string { return "tone" }

func (b *ToneBackend) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	rate := b.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	base := 180.0
	if strings.Contains(req.VoiceID, "f") {
		base = 240
	}

	wordLen := int(float64(rate) * 0.16 / speed)
	gap := wordLen / 4
	var pcm []int16
	for _, w := range strings.Fields(req.Text) {
		freq := base + float64(xxhash.Sum64String(strings.ToLower(w))%120)
		for i := 0; i < wordLen; i++ {
			env := math.Sin(math.Pi * float64(i) / float64(wordLen))
			v := 0.25 * env * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
			pcm = append(pcm, int16(v*32767))
		}
		pcm = append(pcm, make([]int16, gap)...)
	}
	return Audio{Data: audio.EncodeWAV(pcm, rate), MIMEType: "audio/wav"}, nil
}
