package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend transcribes with the Whisper endpoint of an OpenAI-compatible API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model = strings.TrimSpace(model); model == "" {
		model = openai.Whisper1
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: model}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Transcribe(ctx context.Context, req Request) (Response, error) {
	resp, err := b.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    b.model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(req.Audio),
		Language: req.LanguageHint,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Response{}, fmt.Errorf("create transcription: %w", err)
	}

	confidence := 1.0
	if n := len(resp.Segments); n > 0 {
		sum := 0.0
		for _, seg := range resp.Segments {
			sum += math.Exp(seg.AvgLogprob)
		}
		confidence = sum / float64(n)
	}
	return Response{
		Text:       resp.Text,
		Confidence: confidence,
		Language:   resp.Language,
	}, nil
}
