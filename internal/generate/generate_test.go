package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/parley/internal/conversation"
)

type stubBackend struct {
	calls int
	last  Request
	fn    func(Request) (Response, error)
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Complete(_ context.Context, req Request) (Response, error) {
	b.calls++
	b.last = req
	return b.fn(req)
}

func history(n int) []conversation.Message {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	out := make([]conversation.Message, 0, n)
	for i := 0; i < n; i++ {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		out = append(out, conversation.NewMessage(role, string(rune('a'+i)), now.Add(time.Duration(i)*time.Second)))
	}
	return out
}

func TestBuildRequestBoundsContext(t *testing.T) {
	cfg := conversation.DefaultConfig()
	cfg.Policy.ContextWindow = 3

	req := BuildRequest(history(6), "next", cfg)
	if len(req.Messages) != 5 {
		t.Fatalf("len(Messages) = %d, want system + 3 + user", len(req.Messages))
	}
	if req.Messages[0].Role != "system" {
		t.Fatalf("first role = %q, want system", req.Messages[0].Role)
	}
	got := []string{req.Messages[1].Content, req.Messages[2].Content, req.Messages[3].Content}
	if strings.Join(got, "") != "def" {
		t.Fatalf("window = %v, want oldest-first d e f", got)
	}
	if last := req.Messages[4]; last.Role != "user" || last.Content != "next" {
		t.Fatalf("last message = %+v", last)
	}
	if req.MaxTokens != cfg.Model.MaxTokens || req.Model != cfg.Model.ID {
		t.Fatalf("request model params = %+v", req)
	}
}

func TestSystemPromptPresets(t *testing.T) {
	m := conversation.DefaultConfig().Model
	m.Personality = 1
	collaborative := SystemPrompt(m)
	m.Personality = 5
	adversarial := SystemPrompt(m)
	if collaborative == adversarial {
		t.Fatalf("presets 1 and 5 must differ")
	}
	m.Personality = 42
	if SystemPrompt(m) != adversarial {
		t.Fatalf("out-of-range personality not clamped")
	}
	m.SystemPrompt = "You are a pirate."
	if SystemPrompt(m) != "You are a pirate." {
		t.Fatalf("custom prompt ignored")
	}
}

func TestGenerateFallsBackToApology(t *testing.T) {
	cases := []struct {
		name string
		fn   func(Request) (Response, error)
	}{
		{"backend error", func(Request) (Response, error) { return Response{}, errors.New("503") }},
		{"empty content", func(Request) (Response, error) { return Response{Content: "  "}, nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGenerator(&stubBackend{fn: tc.fn}, Options{})
			reply := g.Generate(context.Background(), nil, "hi", conversation.DefaultConfig())
			if reply.Text != Apology || !reply.Degraded {
				t.Fatalf("Generate() = %+v, want degraded apology", reply)
			}
			if !errors.Is(reply.Err, ErrBackendUnavailable) {
				t.Fatalf("Err = %v, want ErrBackendUnavailable", reply.Err)
			}
		})
	}
}

func TestGenerateAppliesFilter(t *testing.T) {
	backend := &stubBackend{fn: func(Request) (Response, error) {
		return Response{Content: "Well shit, mail me at a@b.com"}, nil
	}}
	g := NewGenerator(backend, Options{})

	reply := g.Generate(context.Background(), nil, "hi", conversation.DefaultConfig())
	if strings.Contains(reply.Text, "shit") || strings.Contains(reply.Text, "a@b.com") {
		t.Fatalf("Text = %q, want masked", reply.Text)
	}
	if !reply.Filtered || reply.Degraded {
		t.Fatalf("reply flags = %+v", reply)
	}

	off := conversation.DefaultConfig()
	off.Safety.ContentFilter = false
	off.Safety.ProfanityFilter = false
	if got := g.Generate(context.Background(), nil, "hi", off); got.Text != "Well shit, mail me at a@b.com" {
		t.Fatalf("filter disabled Text = %q", got.Text)
	}
}

func TestFallbackBackend(t *testing.T) {
	primary := &stubBackend{fn: func(Request) (Response, error) { return Response{}, errors.New("down") }}
	secondary := &stubBackend{fn: func(Request) (Response, error) { return Response{Content: "ok"}, nil }}
	b := NewFallbackBackend(primary, secondary)

	resp, err := b.Complete(context.Background(), Request{})
	if err != nil || resp.Content != "ok" {
		t.Fatalf("Complete() = %+v, %v", resp, err)
	}

	canceled := &stubBackend{fn: func(Request) (Response, error) { return Response{}, context.Canceled }}
	secondary.calls = 0
	if _, err := NewFallbackBackend(canceled, secondary).Complete(context.Background(), Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary called after cancellation")
	}
}

func TestEchoBackend(t *testing.T) {
	resp, err := NewEchoBackend().Complete(context.Background(), Request{Messages: []ChatMessage{
		{Role: "system", Content: "x"},
		{Role: "user", Content: "first."},
		{Role: "assistant", Content: "y"},
		{Role: "user", Content: "second!"},
	}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "I heard you say: second. Earlier you said: first." {
		t.Fatalf("Content = %q", resp.Content)
	}
}

func TestOpenAIBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			Messages  []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "gpt-test" || body.MaxTokens != 50 || len(body.Messages) != 2 {
			t.Errorf("request = %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"sunny"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend("test-key", srv.URL+"/v1", "")
	resp, err := b.Complete(context.Background(), Request{
		Model:     "gpt-test",
		MaxTokens: 50,
		Messages:  []ChatMessage{{Role: "system", Content: "s"}, {Role: "user", Content: "weather?"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "sunny" {
		t.Fatalf("Content = %q, want sunny", resp.Content)
	}
}
