package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/antoniostano/parley/internal/config"
	"github.com/antoniostano/parley/internal/conversation"
	"github.com/antoniostano/parley/internal/voice"
)

func offlineConfig() config.Config {
	return config.Config{
		MetricsNamespace:         fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		StoreURL:                 "memory:",
		Provider:                 "offline",
		LocalTTSBinary:           "parley-test-missing-tts",
		SessionInactivityTimeout: time.Minute,
		MaxConversations:         5,
		DailyWordLimit:           100,
		SilenceDuration:          300 * time.Millisecond,
		NoSpeechTimeout:          time.Second,
		Conversation:             conversation.DefaultConfig(),
	}
}

func TestResolveProvidersOffline(t *testing.T) {
	setup, err := resolveProviders(offlineConfig())
	if err != nil {
		t.Fatalf("resolveProviders() error = %v", err)
	}
	if got := backendName(setup.transcribePrimary, setup.transcribeFallback); got != "synthetic" {
		t.Fatalf("transcribe = %q, want synthetic", got)
	}
	if got := setup.generator.Name(); got != "echo" {
		t.Fatalf("generate = %q, want echo", got)
	}
	if setup.synthFallback != nil || setup.synthPrimary.Name() != "tone" {
		t.Fatalf("synth = %s with fallback %v, want tone alone", setup.synthPrimary.Name(), setup.synthFallback)
	}
}

func TestResolveProvidersLocalRecognizer(t *testing.T) {
	cfg := offlineConfig()
	cfg.TranscribeURL = "http://127.0.0.1:9/inference"
	setup, err := resolveProviders(cfg)
	if err != nil {
		t.Fatalf("resolveProviders() error = %v", err)
	}
	if got := backendName(setup.transcribePrimary, setup.transcribeFallback); got != "http -> synthetic" {
		t.Fatalf("transcribe = %q, want http -> synthetic", got)
	}
}

func TestResolveProvidersElevenLabsOverride(t *testing.T) {
	cfg := offlineConfig()
	cfg.Provider = "auto"
	cfg.OpenAIAPIKey = "sk-test"
	cfg.ElevenLabsAPIKey = "xi-test"
	setup, err := resolveProviders(cfg)
	if err != nil {
		t.Fatalf("resolveProviders() error = %v", err)
	}
	if got := backendName(setup.synthPrimary, setup.synthFallback); got != "elevenlabs -> openai" {
		t.Fatalf("synth = %q, want elevenlabs -> openai", got)
	}
	if setup.transcribePrimary.Name() != "openai" {
		t.Fatalf("transcribe = %q, want openai", setup.transcribePrimary.Name())
	}
}

func TestResolveProvidersRejects(t *testing.T) {
	cfg := offlineConfig()
	cfg.Provider = "openai"
	if _, err := resolveProviders(cfg); err == nil {
		t.Fatalf("openai without key: error = nil")
	}
	cfg.Provider = "cloud"
	if _, err := resolveProviders(cfg); err == nil {
		t.Fatalf("unknown provider: error = nil")
	}
}

func TestBuildOffline(t *testing.T) {
	b, err := Build(context.Background(), offlineConfig(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := b.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	want := ProviderInfo{Transcribe: "synthetic", Generate: "echo", Synth: "tone", Detail: "offline"}
	if b.Providers != want {
		t.Fatalf("Providers = %+v, want %+v", b.Providers, want)
	}
	if b.API == nil || b.Sessions == nil {
		t.Fatalf("Build() left API or Sessions nil")
	}
	e := b.NewEngine(nil, nil)
	if e == nil || e.State() != voice.StateIdle {
		t.Fatalf("NewEngine() = %v", e)
	}
}
