package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&StatusError{Code: 400}, false},
		{&StatusError{Code: 429}, true},
		{fmt.Errorf("wrapped: %w", &StatusError{Code: 503}), true},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestBackoffCap(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Cap: 700 * time.Millisecond}
	if got := p.Backoff(0); got != p.Base {
		t.Fatalf("Backoff(0) = %v, want %v", got, p.Base)
	}
	if got := p.Backoff(2); got != 400*time.Millisecond {
		t.Fatalf("Backoff(2) = %v, want 400ms", got)
	}
	if got := p.Backoff(10); got != p.Cap {
		t.Fatalf("Backoff(10) = %v, want %v", got, p.Cap)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 3}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{Provider: "test", Code: 502}
		}
		return &StatusError{Provider: "test", Code: 401}
	})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 401 {
		t.Fatalf("Do() error = %v, want 401", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Policy{Attempts: 3, Base: time.Hour}.Do(ctx, func(context.Context) error {
		return &StatusError{Code: 503}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
}
