package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antoniostano/parley/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	ModelID      string
	OutputFormat string
	Stability    float64
	Similarity   float64
	MaxRetries   int
}

// ElevenLabsBackend calls the ElevenLabs text-to-speech REST endpoint.
type ElevenLabsBackend struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsBackend(cfg ElevenLabsConfig) *ElevenLabsBackend {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Stability <= 0 {
		cfg.Stability = 0.42
	}
	if cfg.Similarity <= 0 {
		cfg.Similarity = 0.8
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &ElevenLabsBackend{cfg: cfg, client: &http.Client{Timeout: 60 * time.Second}}
}

func (b *ElevenLabsBackend) Name() string { return "elevenlabs" }

type elevenRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings elevenSetting `json:"voice_settings"`
}

type elevenSetting struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

func (b *ElevenLabsBackend) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if strings.TrimSpace(req.VoiceID) == "" {
		return Audio{}, fmt.Errorf("voice_id is required")
	}
	payload, err := json.Marshal(elevenRequest{
		Text:         req.Text,
		ModelID:      b.cfg.ModelID,
		LanguageCode: req.Language,
		VoiceSettings: elevenSetting{
			Stability:       b.cfg.Stability,
			SimilarityBoost: b.cfg.Similarity,
			Speed:           req.Speed,
		},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		strings.TrimRight(b.cfg.BaseURL, "/"), url.PathEscape(req.VoiceID), url.QueryEscape(b.cfg.OutputFormat))

	retry := reliability.Policy{Attempts: b.cfg.MaxRetries + 1, Base: 250 * time.Millisecond, Cap: 2 * time.Second}
	var out Audio
	err = retry.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.post(ctx, endpoint, payload)
		return err
	})
	if err != nil {
		return Audio{}, err
	}
	return out, nil
}

func (b *ElevenLabsBackend) post(ctx context.Context, endpoint string, payload []byte) (Audio, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Audio{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", b.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	res, err := b.client.Do(httpReq)
	if err != nil {
		return Audio{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Audio{}, &reliability.StatusError{Provider: "elevenlabs", Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("read audio: %w", err)
	}
	mt := res.Header.Get("Content-Type")
	if mt == "" {
		mt = "audio/mpeg"
	}
	return Audio{Data: data, MIMEType: mt}, nil
}
