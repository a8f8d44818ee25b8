package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.DailyWordLimit != 3000 {
		t.Fatalf("DailyWordLimit = %d, want 3000", cfg.DailyWordLimit)
	}
	if cfg.Provider != "auto" || cfg.UseOpenAI() {
		t.Fatalf("Provider = %q UseOpenAI = %v, want auto without OpenAI", cfg.Provider, cfg.UseOpenAI())
	}
	if cfg.Conversation.Model.Personality != 3 {
		t.Fatalf("default personality = %d, want 3", cfg.Conversation.Model.Personality)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PARLEY_BIND_ADDR", ":9191")
	t.Setenv("PARLEY_DAILY_WORD_LIMIT", "500")
	t.Setenv("PARLEY_CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("PARLEY_SILENCE_DURATION", "800ms")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.DailyWordLimit != 500 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.SilenceDuration != 800*time.Millisecond {
		t.Fatalf("SilenceDuration = %v, want 800ms", cfg.SilenceDuration)
	}
	if !cfg.UseOpenAI() {
		t.Fatalf("UseOpenAI() = false with an API key in auto mode")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PARLEY_DAILY_WORD_LIMIT", "0"},
		{"PARLEY_DAILY_WORD_LIMIT", "many"},
		{"PARLEY_SESSION_INACTIVITY_TIMEOUT", "1s"},
		{"PARLEY_ALLOW_ANY_ORIGIN", "maybe"},
		{"PARLEY_PROVIDER", "cloud"},
		{"PARLEY_PROVIDER", "openai"},
		{"PARLEY_VAD_MODE", "7"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want error")
			}
		})
	}
}

func TestLoadProfileOverridesDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "profile.toml")
	profile := `
[model]
personality = 5
temperature = 0.2

[policy]
auto_respond = false
response_delay = "1s"

[safety]
max_duration = "10m"
`
	if err := os.WriteFile(path, []byte(profile), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	t.Setenv("PARLEY_PROFILE_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	c := cfg.Conversation
	if c.Model.Personality != 5 || c.Model.Temperature != 0.2 {
		t.Fatalf("model = %+v", c.Model)
	}
	if c.Policy.AutoRespond || c.Policy.ResponseDelay != time.Second {
		t.Fatalf("policy = %+v", c.Policy)
	}
	if c.Safety.MaxDuration != 10*time.Minute {
		t.Fatalf("MaxDuration = %v, want 10m", c.Safety.MaxDuration)
	}
	if !c.Policy.AllowInterruption || c.Model.MaxTokens != 300 {
		t.Fatalf("keys missing from the profile lost their defaults: %+v", c)
	}
}

func TestLoadProfileRejectsBadTemperature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := os.WriteFile(path, []byte("[model]\ntemperature = 9.0\n"), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Fatalf("LoadProfile() error = nil, want range error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"PARLEY_BIND_ADDR",
		"PARLEY_SHUTDOWN_TIMEOUT",
		"PARLEY_SESSION_INACTIVITY_TIMEOUT",
		"PARLEY_METRICS_NAMESPACE",
		"PARLEY_ALLOW_ANY_ORIGIN",
		"PARLEY_CORS_ORIGINS",
		"PARLEY_RATE_LIMIT_PER_MINUTE",
		"PARLEY_STORE_URL",
		"PARLEY_MAX_CONVERSATIONS",
		"PARLEY_AUDIO_CHUNK_SIZE",
		"PARLEY_DAILY_WORD_LIMIT",
		"PARLEY_PROVIDER",
		"PARLEY_TRANSCRIBE_MODEL",
		"PARLEY_SPEECH_MODEL",
		"PARLEY_TRANSCRIBE_URL",
		"PARLEY_LOCAL_TTS_BINARY",
		"PARLEY_VOICE_CATALOG",
		"PARLEY_SYNTH_CACHE_BYTES",
		"PARLEY_BLOCKED_TERMS",
		"PARLEY_INPUT_DEVICE",
		"PARLEY_OUTPUT_DEVICE",
		"PARLEY_VAD_MODE",
		"PARLEY_SILENCE_DURATION",
		"PARLEY_NO_SPEECH_TIMEOUT",
		"PARLEY_PROFILE_FILE",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_TTS_MODEL_ID",
		"LOG_LEVEL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
