package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/conversation"
	"github.com/antoniostano/parley/internal/logging"
	"github.com/antoniostano/parley/internal/observability"
	"github.com/antoniostano/parley/internal/policy"
)

// Apology is the reply used whenever the language model cannot answer.
const Apology = "I apologize, but I'm having trouble responding right now. Please try again in a moment."

var ErrBackendUnavailable = errors.New("generation backend unavailable")

type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("generate %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackendUnavailable }

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages    []ChatMessage
	Model       string
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Content string
}

// Backend is a chat-completion language model.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Reply is the filtered assistant text for one turn. Degraded is set when the
// backend failed and Text holds the apology; Err carries the cause.
type Reply struct {
	Text     string
	Degraded bool
	Filtered bool
	Masked   int
	Err      error
}

type Options struct {
	Filter  *policy.ContentFilter
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

type Generator struct {
	backend Backend
	filter  *policy.ContentFilter
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewGenerator(backend Backend, opts Options) *Generator {
	if opts.Filter == nil {
		opts.Filter = policy.NewContentFilter(nil, nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	return &Generator{
		backend: backend,
		filter:  opts.Filter,
		timeout: opts.Timeout,
		logger:  logging.OrNop(opts.Logger).Named("generate"),
		metrics: opts.Metrics,
	}
}

// Generate always returns a reply. Backend failures and empty completions
// yield the apology text; the content filter runs on whatever is returned.
func (g *Generator) Generate(ctx context.Context, history []conversation.Message, userText string, cfg conversation.Config) Reply {
	cfg = cfg.Normalize()
	req := BuildRequest(history, userText, cfg)

	var (
		text string
		err  error
	)
	if g.backend == nil {
		err = &BackendError{Backend: "none", Err: errors.New("no backend configured")}
	} else {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		var resp Response
		resp, err = g.backend.Complete(callCtx, req)
		cancel()
		text = strings.TrimSpace(resp.Content)
		if err == nil && text == "" {
			err = errors.New("empty completion")
		}
		if err != nil {
			g.metrics.ProviderError(g.backend.Name(), "generate")
			g.logger.Warn("completion failed", zap.String("provider", g.backend.Name()), zap.Error(err))
			err = &BackendError{Backend: g.backend.Name(), Err: err}
		}
	}

	reply := Reply{}
	if err != nil {
		text = Apology
		reply.Degraded = true
		reply.Err = err
	}
	res := g.filter.Apply(text, policy.FilterOptions{
		ContentFilter:   cfg.Safety.ContentFilter,
		ProfanityFilter: cfg.Safety.ProfanityFilter,
	})
	reply.Text = res.Text
	reply.Filtered = res.Changed
	reply.Masked = res.Masked
	return reply
}

// BuildRequest assembles the system prompt, the last ContextWindow messages of
// history (oldest first) and the new user turn.
func BuildRequest(history []conversation.Message, userText string, cfg conversation.Config) Request {
	window := conversation.Tail(history, cfg.Policy.ContextWindow)
	msgs := make([]ChatMessage, 0, len(window)+2)
	msgs = append(msgs, ChatMessage{Role: "system", Content: SystemPrompt(cfg.Model)})
	for _, m := range window {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		msgs = append(msgs, ChatMessage{Role: string(m.Role), Content: m.Text})
	}
	msgs = append(msgs, ChatMessage{Role: "user", Content: strings.TrimSpace(userText)})
	return Request{
		Messages:    msgs,
		Model:       cfg.Model.ID,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
	}
}
