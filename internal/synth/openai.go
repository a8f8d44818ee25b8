package synth

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend uses the speech endpoint of an OpenAI-compatible API.
type OpenAIBackend struct {
	client *openai.Client
	model  openai.SpeechModel
}

func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	m := openai.TTSModel1
	if model = strings.TrimSpace(model); model != "" {
		m = openai.SpeechModel(model)
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: m}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Synthesize(ctx context.Context, req Request) (Audio, error) {
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	speed = min(max(speed, 0.25), 4)

	resp, err := b.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          b.model,
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.VoiceID),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed,
	})
	if err != nil {
		return Audio{}, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return Audio{}, fmt.Errorf("read speech: %w", err)
	}
	return Audio{Data: data, MIMEType: "audio/mpeg"}, nil
}
