package transcribe

import (
	"context"
	"sync"
)

// SyntheticBackend returns canned transcripts in order. It stands in for a
// real recognizer in demo and offline mode.
type SyntheticBackend struct {
	mu      sync.Mutex
	phrases []string
	next    int
}

var defaultPhrases = []string{
	"Hello, can you hear me?",
	"Tell me something interesting.",
	"What do you think about that?",
	"Thanks, that is all for now.",
}

func NewSyntheticBackend(phrases ...string) *SyntheticBackend {
	if len(phrases) == 0 {
		phrases = defaultPhrases
	}
	return &SyntheticBackend{phrases: append([]string(nil), phrases...)}
}

func (b *SyntheticBackend) Name() string { return "synthetic" }

func (b *SyntheticBackend) Transcribe(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	text := b.phrases[b.next%len(b.phrases)]
	b.next++
	return Response{Text: text, Confidence: 0.5, Language: req.LanguageHint}, nil
}
