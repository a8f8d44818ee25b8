package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend calls the chat completions endpoint of an OpenAI-compatible API.
type OpenAIBackend struct {
	client       *openai.Client
	defaultModel string
}

func NewOpenAIBackend(apiKey, baseURL, defaultModel string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if defaultModel = strings.TrimSpace(defaultModel); defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), defaultModel: defaultModel}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (Response, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = b.defaultModel
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("completion returned no choices")
	}
	return Response{Content: resp.Choices[0].Message.Content}, nil
}
