package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StatusError is a provider call that got an HTTP status outside 2xx.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Code, e.Body)
}

// Retryable reports whether err is a throttling or upstream status worth
// another attempt. Transport and decode errors are not retried.
func Retryable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Policy is a bounded retry loop with capped exponential backoff.
type Policy struct {
	// Attempts counts the first call. Values below one mean one attempt.
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// Do calls fn until it succeeds, returns an error Retryable rejects, ctx is
// done or the attempts are spent. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Backoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(ctx); err == nil || !Retryable(err) {
			return err
		}
	}
	return err
}

// Backoff is the wait before retry n (zero based): Base doubled n times,
// never above Cap when Cap is set.
func (p Policy) Backoff(n int) time.Duration {
	d := p.Base
	for i := 0; i < n; i++ {
		if p.Cap > 0 && d >= p.Cap {
			break
		}
		d *= 2
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}
