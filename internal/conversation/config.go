package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Config is the settings snapshot a conversation runs with. It is copied into
// the conversation when it begins and never changes afterwards.
type Config struct {
	Model  ModelConfig  `json:"model" toml:"model"`
	Voice  VoiceConfig  `json:"voice" toml:"voice"`
	Policy PolicyConfig `json:"policy" toml:"policy"`
	Audio  AudioConfig  `json:"audio" toml:"audio"`
	Safety SafetyConfig `json:"safety" toml:"safety"`
}

type ModelConfig struct {
	ID           string  `json:"id" toml:"id"`
	Temperature  float64 `json:"temperature" toml:"temperature"`
	MaxTokens    int     `json:"max_tokens" toml:"max_tokens"`
	SystemPrompt string  `json:"system_prompt,omitempty" toml:"system_prompt"`
	// Personality selects a built-in prompt preset, 1 (gentle) to 5 (combative).
	Personality int `json:"personality" toml:"personality"`
}

type VoiceConfig struct {
	VoiceID        string  `json:"voice_id,omitempty" toml:"voice_id"`
	Gender         string  `json:"gender,omitempty" toml:"gender"`
	Personality    string  `json:"personality,omitempty" toml:"personality"`
	Rate           float64 `json:"rate" toml:"rate"`
	Pitch          float64 `json:"pitch" toml:"pitch"`
	Volume         float64 `json:"volume" toml:"volume"`
	InputLanguage  string  `json:"input_language" toml:"input_language"`
	OutputLanguage string  `json:"output_language" toml:"output_language"`
}

type PolicyConfig struct {
	AutoRespond       bool          `json:"auto_respond" toml:"auto_respond"`
	ResponseDelay     time.Duration `json:"response_delay" toml:"response_delay"`
	AllowInterruption bool          `json:"allow_interruption" toml:"allow_interruption"`
	ContextWindow     int           `json:"context_window" toml:"context_window"`
}

type AudioConfig struct {
	NoiseReduction   bool `json:"noise_reduction" toml:"noise_reduction"`
	EchoCancellation bool `json:"echo_cancellation" toml:"echo_cancellation"`
	GainControl      bool `json:"gain_control" toml:"gain_control"`
}

type SafetyConfig struct {
	ContentFilter   bool `json:"content_filter" toml:"content_filter"`
	ProfanityFilter bool `json:"profanity_filter" toml:"profanity_filter"`
	// MaxDuration ends the conversation once exceeded. Zero disables the limit.
	MaxDuration time.Duration `json:"max_duration" toml:"max_duration"`
}

const (
	MinPersonality = 1
	MaxPersonality = 5
)

func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			ID:          "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   300,
			Personality: 3,
		},
		Voice: VoiceConfig{
			Rate:           1.0,
			Pitch:          1.0,
			Volume:         1.0,
			InputLanguage:  "en",
			OutputLanguage: "en",
		},
		Policy: PolicyConfig{
			AutoRespond:       true,
			ResponseDelay:     300 * time.Millisecond,
			AllowInterruption: true,
			ContextWindow:     10,
		},
		Audio: AudioConfig{
			NoiseReduction:   true,
			EchoCancellation: true,
			GainControl:      true,
		},
		Safety: SafetyConfig{
			ContentFilter:   true,
			ProfanityFilter: true,
			MaxDuration:     30 * time.Minute,
		},
	}
}

// Normalize clamps out-of-range values into their valid ranges.
func (c Config) Normalize() Config {
	if c.Model.Personality < MinPersonality {
		c.Model.Personality = MinPersonality
	}
	if c.Model.Personality > MaxPersonality {
		c.Model.Personality = MaxPersonality
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = 300
	}
	if c.Policy.ContextWindow <= 0 {
		c.Policy.ContextWindow = 1
	}
	if c.Policy.ResponseDelay < 0 {
		c.Policy.ResponseDelay = 0
	}
	if c.Voice.Rate <= 0 {
		c.Voice.Rate = 1.0
	}
	if c.Voice.Pitch <= 0 {
		c.Voice.Pitch = 1.0
	}
	if c.Voice.Volume < 0 {
		c.Voice.Volume = 0
	}
	if c.Voice.Volume > 1 {
		c.Voice.Volume = 1
	}
	if strings.TrimSpace(c.Voice.InputLanguage) == "" {
		c.Voice.InputLanguage = "en"
	}
	if strings.TrimSpace(c.Voice.OutputLanguage) == "" {
		c.Voice.OutputLanguage = c.Voice.InputLanguage
	}
	return c
}

// Validate reports settings that cannot be clamped into something sensible.
func (c Config) Validate() error {
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model temperature %.2f out of range [0,2]", c.Model.Temperature)
	}
	if c.Safety.MaxDuration < 0 {
		return fmt.Errorf("max duration must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Voice.Gender)) {
	case "", "female", "male", "neutral":
	default:
		return fmt.Errorf("unknown voice gender %q", c.Voice.Gender)
	}
	return nil
}
