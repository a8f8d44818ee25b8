package generate

import (
	"context"
	"errors"
	"fmt"
)

// FallbackBackend tries the primary backend first and the secondary on error.
type FallbackBackend struct {
	primary   Backend
	secondary Backend
}

func NewFallbackBackend(primary, secondary Backend) *FallbackBackend {
	return &FallbackBackend{primary: primary, secondary: secondary}
}

func (b *FallbackBackend) Name() string {
	switch {
	case b.primary == nil && b.secondary == nil:
		return "none"
	case b.secondary == nil:
		return b.primary.Name()
	case b.primary == nil:
		return b.secondary.Name()
	}
	return b.primary.Name() + "+" + b.secondary.Name()
}

func (b *FallbackBackend) Complete(ctx context.Context, req Request) (Response, error) {
	if b.primary == nil {
		if b.secondary != nil {
			return b.secondary.Complete(ctx, req)
		}
		return Response{}, fmt.Errorf("fallback backend misconfigured")
	}
	resp, err := b.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || b.secondary == nil {
		return Response{}, err
	}
	resp, fbErr := b.secondary.Complete(ctx, req)
	if fbErr != nil {
		return Response{}, fmt.Errorf("primary backend error: %w; fallback backend error: %v", err, fbErr)
	}
	return resp, nil
}
