package app

import (
	"fmt"
	"strings"

	"github.com/antoniostano/parley/internal/config"
	"github.com/antoniostano/parley/internal/generate"
	"github.com/antoniostano/parley/internal/synth"
	"github.com/antoniostano/parley/internal/transcribe"
)

// providerSetup is the resolved backend chain for each pipeline stage.
type providerSetup struct {
	transcribePrimary  transcribe.Backend
	transcribeFallback transcribe.Backend
	generator          generate.Backend
	synthPrimary       synth.Backend
	synthFallback      synth.Backend
	detail             string
}

func resolveProviders(cfg config.Config) (providerSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}

	local := localSynth(cfg)

	hosted := func() providerSetup {
		setup := providerSetup{
			transcribePrimary: transcribe.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.TranscribeModel),
			generator: generate.NewFallbackBackend(
				generate.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Conversation.Model.ID),
				generate.NewEchoBackend(),
			),
			synthPrimary:  synth.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.SpeechModel),
			synthFallback: local,
			detail:        "openai",
		}
		if cfg.TranscribeURL != "" {
			setup.transcribeFallback = transcribe.NewHTTPBackend(cfg.TranscribeURL)
		}
		return setup
	}

	offline := func(reason string) providerSetup {
		setup := providerSetup{
			transcribePrimary: transcribe.NewSyntheticBackend(),
			generator:         generate.NewEchoBackend(),
			synthPrimary:      local,
			detail:            reason,
		}
		if cfg.TranscribeURL != "" {
			// A local recognizer beats canned transcripts when one is running.
			setup.transcribePrimary = transcribe.NewHTTPBackend(cfg.TranscribeURL)
			setup.transcribeFallback = transcribe.NewSyntheticBackend()
		}
		if _, tone := local.(*synth.ToneBackend); !tone {
			setup.synthFallback = synth.NewToneBackend()
		}
		return setup
	}

	var setup providerSetup
	switch mode {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return providerSetup{}, fmt.Errorf("PARLEY_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		setup = hosted()
	case "offline":
		return offline("offline"), nil
	case "auto":
		if cfg.OpenAIAPIKey == "" {
			setup = offline("offline (no OPENAI_API_KEY)")
		} else {
			setup = hosted()
		}
	default:
		return providerSetup{}, fmt.Errorf("invalid PARLEY_PROVIDER: %q (expected auto|openai|offline)", cfg.Provider)
	}

	// ElevenLabs takes over speech whenever a key is present, keeping the
	// previous primary as its fallback.
	if cfg.ElevenLabsAPIKey != "" {
		setup.synthFallback = setup.synthPrimary
		setup.synthPrimary = synth.NewElevenLabsBackend(synth.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			ModelID: cfg.ElevenLabsModelID,
		})
		setup.detail += " + elevenlabs voice"
	}
	return setup, nil
}

// localSynth is the on-device voice: espeak when installed, tones otherwise.
func localSynth(cfg config.Config) synth.Backend {
	cmd := synth.NewCommandBackend(cfg.LocalTTSBinary)
	if cmd.Available() {
		return cmd
	}
	return synth.NewToneBackend()
}
