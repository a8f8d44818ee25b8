package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/capture"
	"github.com/antoniostano/parley/internal/config"
	"github.com/antoniostano/parley/internal/device"
	"github.com/antoniostano/parley/internal/generate"
	"github.com/antoniostano/parley/internal/httpapi"
	"github.com/antoniostano/parley/internal/kv"
	"github.com/antoniostano/parley/internal/logging"
	"github.com/antoniostano/parley/internal/observability"
	"github.com/antoniostano/parley/internal/playback"
	"github.com/antoniostano/parley/internal/policy"
	"github.com/antoniostano/parley/internal/quota"
	"github.com/antoniostano/parley/internal/session"
	"github.com/antoniostano/parley/internal/store"
	"github.com/antoniostano/parley/internal/synth"
	"github.com/antoniostano/parley/internal/transcribe"
	"github.com/antoniostano/parley/internal/voice"
)

type ProviderInfo struct {
	Transcribe string
	Generate   string
	Synth      string
	Detail     string
}

type BuildResult struct {
	Config      config.Config
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	History     *store.Store
	Usage       *quota.Tracker
	Transcriber *transcribe.Adapter
	Generator   *generate.Generator
	Synth       *synth.Synthesizer
	Sessions    *session.Manager
	API         *httpapi.Server
	Providers   ProviderInfo

	// Cleanup should be called on shutdown to release the store.
	Cleanup func() error

	kv kv.Store
}

// Build wires every collaborator of the service from cfg. The returned
// NewEngine method builds engines over any microphone and speaker pair.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	logger = logging.OrNop(logger)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	backend, err := kv.Open(ctx, cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	setup, err := resolveProviders(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	catalog := synth.DefaultCatalog()
	if cfg.VoiceCatalogPath != "" {
		if catalog, err = synth.LoadCatalog(cfg.VoiceCatalogPath); err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("voice catalog: %w", err)
		}
	}

	history := store.New(backend, store.Options{
		MaxConversations: cfg.MaxConversations,
		ChunkSize:        cfg.AudioChunkSize,
		Logger:           logger,
	})
	tracker := quota.NewTracker(backend, quota.Options{
		DailyLimit: cfg.DailyWordLimit,
		Logger:     logger,
		Metrics:    metrics,
		OnWarning: func(w quota.Warning) {
			logger.Info("usage warning",
				zap.String("level", string(w.Level)),
				zap.Int("used_words", w.UsedWords),
				zap.Int("limit", w.Limit),
			)
		},
	})
	transcriber := transcribe.NewAdapter(setup.transcribePrimary, setup.transcribeFallback, transcribe.Options{
		Logger:  logger,
		Metrics: metrics,
	})
	generator := generate.NewGenerator(setup.generator, generate.Options{
		Filter:  policy.NewContentFilter(cfg.BlockedTerms, nil),
		Logger:  logger,
		Metrics: metrics,
	})
	synthesizer := synth.New(setup.synthPrimary, synth.Options{
		Catalog:    catalog,
		Fallback:   setup.synthFallback,
		CacheBytes: cfg.SynthCacheBytes,
		Logger:     logger,
		Metrics:    metrics,
	})

	b := &BuildResult{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		History:     history,
		Usage:       tracker,
		Transcriber: transcriber,
		Generator:   generator,
		Synth:       synthesizer,
		Sessions:    session.NewManager(cfg.SessionInactivityTimeout),
		Providers: ProviderInfo{
			Transcribe: backendName(setup.transcribePrimary, setup.transcribeFallback),
			Generate:   setup.generator.Name(),
			Synth:      backendName(setup.synthPrimary, setup.synthFallback),
			Detail:     setup.detail,
		},
		kv: backend,
	}
	b.API = httpapi.New(httpapi.Deps{
		Config:    cfg,
		Sessions:  b.Sessions,
		NewEngine: b.NewEngine,
		History:   history,
		Usage:     tracker,
		Catalog:   catalog,
		Metrics:   metrics,
		Logger:    logger,
	})
	b.Cleanup = func() error {
		if err := b.kv.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
		return nil
	}
	return b, nil
}

// NewEngine builds an engine whose audio runs through mic and speaker. The
// pipeline backends are shared; capture, playback and voice allocation are
// per engine.
func (b *BuildResult) NewEngine(mic capture.Microphone, speaker playback.Speaker) *voice.Engine {
	cfg := b.Config
	return voice.NewEngine(voice.Deps{
		Recorder: capture.New(mic, capture.Options{
			SampleRate:      audio.DefaultSampleRate,
			SilenceDuration: cfg.SilenceDuration,
			NoSpeechTimeout: cfg.NoSpeechTimeout,
			Audio:           cfg.Conversation.Audio,
			NewDetector:     device.DetectorFactory(audio.DefaultSampleRate, cfg.VADMode),
			Logger:          b.Logger,
			Metrics:         b.Metrics,
		}),
		Transcriber: b.Transcriber,
		Quota:       b.Usage,
		Responder:   b.Generator,
		Synthesizer: b.Synth,
		Player:      playback.NewController(speaker, b.Logger),
		Store:       b.History,
		Voices:      b.Synth.NewAllocator(),
		Logger:      b.Logger,
		Metrics:     b.Metrics,
	})
}

type named interface{ Name() string }

func backendName(primary, fallback named) string {
	names := []string{primary.Name()}
	if fallback != nil {
		names = append(names, fallback.Name())
	}
	return strings.Join(names, " -> ")
}
