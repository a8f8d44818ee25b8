package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/antoniostano/parley/internal/conversation"
)

// Config contains all runtime settings for the conversation service and the
// local talk loop.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin     bool
	CORSOrigins        []string
	RateLimitPerMinute int

	StoreURL         string
	MaxConversations int
	AudioChunkSize   int
	DailyWordLimit   int

	// Provider is auto, openai or offline.
	Provider        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	TranscribeModel string
	SpeechModel     string
	TranscribeURL   string

	ElevenLabsAPIKey  string
	ElevenLabsModelID string

	LocalTTSBinary   string
	VoiceCatalogPath string
	SynthCacheBytes  int
	BlockedTerms     []string

	InputDevice     string
	OutputDevice    string
	VADMode         int
	SilenceDuration time.Duration
	NoSpeechTimeout time.Duration

	ProfilePath string
	// Conversation is the default profile new conversations start from.
	Conversation conversation.Config
}

// Load reads a .env file when one exists, then the environment, and applies
// safe defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		BindAddr:          envOrDefault("PARLEY_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("PARLEY_METRICS_NAMESPACE", "parley"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		CORSOrigins:       listFromEnv("PARLEY_CORS_ORIGINS"),
		StoreURL:          envOrDefault("PARLEY_STORE_URL", ".parley/parley.db"),
		Provider:          strings.ToLower(envOrDefault("PARLEY_PROVIDER", "auto")),
		OpenAIAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:     strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		TranscribeModel:   envOrDefault("PARLEY_TRANSCRIBE_MODEL", "whisper-1"),
		SpeechModel:       envOrDefault("PARLEY_SPEECH_MODEL", "tts-1"),
		TranscribeURL:     strings.TrimSpace(os.Getenv("PARLEY_TRANSCRIBE_URL")),
		ElevenLabsAPIKey:  strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		ElevenLabsModelID: envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		LocalTTSBinary:    envOrDefault("PARLEY_LOCAL_TTS_BINARY", "espeak-ng"),
		VoiceCatalogPath:  strings.TrimSpace(os.Getenv("PARLEY_VOICE_CATALOG")),
		BlockedTerms:      listFromEnv("PARLEY_BLOCKED_TERMS"),
		InputDevice:       strings.TrimSpace(os.Getenv("PARLEY_INPUT_DEVICE")),
		OutputDevice:      strings.TrimSpace(os.Getenv("PARLEY_OUTPUT_DEVICE")),
		ProfilePath:       strings.TrimSpace(os.Getenv("PARLEY_PROFILE_FILE")),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		RateLimitPerMinute:       120,
		MaxConversations:         50,
		DailyWordLimit:           3000,
		VADMode:                  2,
		SilenceDuration:          1200 * time.Millisecond,
		NoSpeechTimeout:          8 * time.Second,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("PARLEY_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = durationFromEnv("PARLEY_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SilenceDuration, err = durationFromEnv("PARLEY_SILENCE_DURATION", cfg.SilenceDuration); err != nil {
		return Config{}, err
	}
	if cfg.NoSpeechTimeout, err = durationFromEnv("PARLEY_NO_SPEECH_TIMEOUT", cfg.NoSpeechTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("PARLEY_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMinute, err = intFromEnv("PARLEY_RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return Config{}, err
	}
	if cfg.MaxConversations, err = intFromEnv("PARLEY_MAX_CONVERSATIONS", cfg.MaxConversations); err != nil {
		return Config{}, err
	}
	if cfg.AudioChunkSize, err = intFromEnv("PARLEY_AUDIO_CHUNK_SIZE", cfg.AudioChunkSize); err != nil {
		return Config{}, err
	}
	if cfg.DailyWordLimit, err = intFromEnv("PARLEY_DAILY_WORD_LIMIT", cfg.DailyWordLimit); err != nil {
		return Config{}, err
	}
	if cfg.SynthCacheBytes, err = intFromEnv("PARLEY_SYNTH_CACHE_BYTES", cfg.SynthCacheBytes); err != nil {
		return Config{}, err
	}
	if cfg.VADMode, err = intFromEnv("PARLEY_VAD_MODE", cfg.VADMode); err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("PARLEY_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.DailyWordLimit <= 0 {
		return Config{}, fmt.Errorf("PARLEY_DAILY_WORD_LIMIT must be positive")
	}
	if cfg.MaxConversations <= 0 {
		return Config{}, fmt.Errorf("PARLEY_MAX_CONVERSATIONS must be positive")
	}
	if cfg.RateLimitPerMinute < 0 {
		return Config{}, fmt.Errorf("PARLEY_RATE_LIMIT_PER_MINUTE must be >= 0")
	}
	if cfg.AudioChunkSize < 0 {
		return Config{}, fmt.Errorf("PARLEY_AUDIO_CHUNK_SIZE must be >= 0")
	}
	if cfg.VADMode < 0 || cfg.VADMode > 3 {
		return Config{}, fmt.Errorf("PARLEY_VAD_MODE must be between 0 and 3")
	}
	switch cfg.Provider {
	case "auto", "openai", "offline":
	default:
		return Config{}, fmt.Errorf("PARLEY_PROVIDER must be auto, openai or offline, got %q", cfg.Provider)
	}
	if cfg.Provider == "openai" && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required when PARLEY_PROVIDER=openai")
	}

	cfg.Conversation = conversation.DefaultConfig()
	if cfg.ProfilePath != "" {
		if cfg.Conversation, err = LoadProfile(cfg.ProfilePath); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// UseOpenAI reports whether the hosted backends should be wired.
func (c Config) UseOpenAI() bool {
	switch c.Provider {
	case "openai":
		return true
	case "offline":
		return false
	default:
		return c.OpenAIAPIKey != ""
	}
}

// LoadProfile reads a TOML conversation profile. Tables and keys missing from
// the file keep their default values.
func LoadProfile(path string) (conversation.Config, error) {
	cfg := conversation.DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return conversation.Config{}, fmt.Errorf("PARLEY_PROFILE_FILE %s: %w", path, err)
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return conversation.Config{}, fmt.Errorf("PARLEY_PROFILE_FILE %s: %w", path, err)
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func listFromEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
