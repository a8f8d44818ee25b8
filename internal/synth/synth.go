package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/logging"
	"github.com/antoniostano/parley/internal/observability"
)

var (
	// ErrUnavailable is returned only when the primary and the local
	// fallback path both failed.
	ErrUnavailable = errors.New("speech synthesis unavailable")
	ErrEmptyText   = errors.New("nothing to synthesize")
)

// PersonaPrefix marks a symbolic voice id such as "persona:calm".
const PersonaPrefix = "persona:"

type Audio struct {
	Data     []byte
	MIMEType string
}

type Settings struct {
	Speed    float64
	Volume   float64
	Language string
	// Gender guides the fallback voice when the requested voice is not in
	// the catalog.
	Gender string
}

type Request struct {
	Text     string
	VoiceID  string
	Speed    float64
	Volume   float64
	Language string
}

// Backend is a text-to-speech service.
type Backend interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

type Options struct {
	Catalog *Catalog
	// Fallback is the local synthesis path used when the primary fails.
	Fallback Backend
	// CacheBytes bounds the clip cache. Zero uses 16 MiB, negative disables it.
	CacheBytes int
	Timeout    time.Duration
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

type Synthesizer struct {
	primary  Backend
	fallback Backend
	catalog  *Catalog
	cache    *audioCache
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func New(primary Backend, opts Options) *Synthesizer {
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	s := &Synthesizer{
		primary:  primary,
		fallback: opts.Fallback,
		catalog:  opts.Catalog,
		timeout:  opts.Timeout,
		logger:   logging.OrNop(opts.Logger).Named("synth"),
		metrics:  opts.Metrics,
	}
	switch {
	case opts.CacheBytes == 0:
		s.cache = newAudioCache(16 << 20)
	case opts.CacheBytes > 0:
		s.cache = newAudioCache(opts.CacheBytes)
	}
	return s
}

func (s *Synthesizer) Catalog() *Catalog { return s.catalog }

// NewAllocator returns a voice allocator over this synthesizer's catalog.
func (s *Synthesizer) NewAllocator() *VoiceAllocator { return NewVoiceAllocator(s.catalog) }

// ResolveVoice maps a catalog id, a "persona:<tag>" id or a raw provider id
// to a Voice. An empty id selects the first catalog voice.
func (s *Synthesizer) ResolveVoice(voiceID string) Voice {
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return s.catalog.voices[0]
	}
	if tag, ok := strings.CutPrefix(voiceID, PersonaPrefix); ok {
		if m := s.catalog.Match(Preference{Personality: tag}); len(m) > 0 {
			return m[0]
		}
		return s.catalog.voices[0]
	}
	if v, ok := s.catalog.Lookup(voiceID); ok {
		return v
	}
	return Voice{ID: voiceID, ProviderVoice: voiceID}
}

// Synthesize renders text with the given voice. Results of the primary
// backend are cached by voice and text. When the primary fails the local
// fallback is tried with the closest local voice.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string, settings Settings) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	voice := s.ResolveVoice(voiceID)
	key := cacheKey(voice.ID, text)
	if a, ok := s.cache.get(key); ok {
		return a, nil
	}

	req := Request{
		Text:     text,
		Speed:    settings.Speed,
		Volume:   settings.Volume,
		Language: settings.Language,
	}

	var errs []error
	if s.primary != nil {
		req.VoiceID = voice.ProviderVoice
		a, err := s.call(ctx, s.primary, req)
		if err == nil {
			s.cache.put(key, a)
			return a, nil
		}
		if ctx.Err() != nil {
			return Audio{}, ctx.Err()
		}
		s.metrics.ProviderError(s.primary.Name(), "synthesize")
		s.logger.Warn("primary synthesis failed", zap.String("provider", s.primary.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", s.primary.Name(), err))
	}

	if s.fallback != nil {
		req.VoiceID = localVoiceFor(voice, settings.Gender)
		a, err := s.call(ctx, s.fallback, req)
		if err == nil {
			return a, nil
		}
		if ctx.Err() != nil {
			return Audio{}, ctx.Err()
		}
		s.metrics.ProviderError(s.fallback.Name(), "synthesize")
		s.logger.Warn("fallback synthesis failed", zap.String("provider", s.fallback.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", s.fallback.Name(), err))
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no backend configured"))
	}
	return Audio{}, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

func (s *Synthesizer) call(ctx context.Context, b Backend, req Request) (Audio, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	a, err := b.Synthesize(callCtx, req)
	if err != nil {
		return Audio{}, err
	}
	if len(a.Data) == 0 {
		return Audio{}, errors.New("backend returned no audio")
	}
	return a, nil
}

func localVoiceFor(v Voice, gender string) string {
	if v.LocalVoice != "" {
		return v.LocalVoice
	}
	if gender == "" {
		gender = v.Gender
	}
	switch strings.ToLower(gender) {
	case "female":
		return "en-us+f3"
	case "male":
		return "en-us+m3"
	default:
		return "en-us"
	}
}
