package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/capture"
	"github.com/antoniostano/parley/internal/logging"
	"github.com/antoniostano/parley/internal/observability"
)

var (
	// ErrNoSpeech reports silence or an empty transcript. It is not a failure.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrBackendUnavailable matches every *BackendError.
	ErrBackendUnavailable = errors.New("transcription backend unavailable")
)

// BackendError is returned when every configured backend failed.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("transcribe %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackendUnavailable }

type Request struct {
	Audio        []byte
	MIMEType     string
	LanguageHint string
}

type Response struct {
	Text       string
	Confidence float64
	Language   string
}

// Backend is a speech-to-text service.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (Response, error)
}

type Result struct {
	Text       string
	Confidence float64
	Language   string
	Backend    string
}

type Options struct {
	// Timeout bounds a single backend call.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Adapter turns recordings into text. It prefers the primary backend and
// switches to the fallback when the primary fails. Once the fallback succeeds
// it stays active until it fails, then the primary is retried.
type Adapter struct {
	primary  Backend
	fallback Backend
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics

	fallbackActive atomic.Bool
}

func NewAdapter(primary, fallback Backend, opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if primary == nil {
		primary, fallback = fallback, nil
	}
	return &Adapter{
		primary:  primary,
		fallback: fallback,
		timeout:  opts.Timeout,
		logger:   logging.OrNop(opts.Logger).Named("transcribe"),
		metrics:  opts.Metrics,
	}
}

// Transcribe encodes rec as WAV and sends it to the active backend. A
// recording without speech returns ErrNoSpeech without calling a backend.
func (a *Adapter) Transcribe(ctx context.Context, rec capture.Recording, languageHint string) (Result, error) {
	if !rec.SpeechDetected || len(rec.PCM.Samples) == 0 {
		return Result{}, ErrNoSpeech
	}
	rate := rec.PCM.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	req := Request{
		Audio:        audio.EncodeWAV(rec.PCM.Samples, rate),
		MIMEType:     "audio/wav",
		LanguageHint: strings.TrimSpace(languageHint),
	}
	return a.TranscribeRequest(ctx, req)
}

// TranscribeRequest sends already-encoded audio through the failover chain.
func (a *Adapter) TranscribeRequest(ctx context.Context, req Request) (Result, error) {
	if a.primary == nil {
		return Result{}, &BackendError{Backend: "none", Err: errors.New("no backend configured")}
	}

	var (
		names []string
		errs  []error
	)
	for _, b := range a.order() {
		resp, err := a.call(ctx, b, req)
		if err == nil || errors.Is(err, ErrNoSpeech) {
			a.fallbackActive.Store(b == a.fallback)
			text := strings.TrimSpace(resp.Text)
			if err != nil || text == "" {
				return Result{}, ErrNoSpeech
			}
			return Result{
				Text:       text,
				Confidence: resp.Confidence,
				Language:   resp.Language,
				Backend:    b.Name(),
			}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		a.metrics.ProviderError(b.Name(), "transcribe")
		a.logger.Warn("backend failed", zap.String("provider", b.Name()), zap.Error(err))
		names = append(names, b.Name())
		errs = append(errs, err)
	}
	return Result{}, &BackendError{Backend: strings.Join(names, ","), Err: errors.Join(errs...)}
}

func (a *Adapter) order() []Backend {
	if a.fallback == nil {
		return []Backend{a.primary}
	}
	if a.fallbackActive.Load() {
		return []Backend{a.fallback, a.primary}
	}
	return []Backend{a.primary, a.fallback}
}

func (a *Adapter) call(ctx context.Context, b Backend, req Request) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return b.Transcribe(callCtx, req)
}
