package generate

import (
	"context"
	"fmt"
	"strings"
)

// EchoBackend answers locally without a model. It is used offline and in demos.
type EchoBackend struct{}

func NewEchoBackend() *EchoBackend { return &EchoBackend{} }

func (EchoBackend) Name() string { return "echo" }

func (EchoBackend) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	var last, previous string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role != "user" {
			continue
		}
		if last == "" {
			last = strings.TrimSpace(m.Content)
			continue
		}
		previous = strings.TrimSpace(m.Content)
		break
	}
	if last == "" {
		last = "nothing yet"
	}
	if previous == "" {
		return Response{Content: fmt.Sprintf("I heard you say: %s.", strings.TrimRight(last, ".!?"))}, nil
	}
	return Response{Content: fmt.Sprintf("I heard you say: %s. Earlier you said: %s.",
		strings.TrimRight(last, ".!?"), strings.TrimRight(previous, ".!?"))}, nil
}
