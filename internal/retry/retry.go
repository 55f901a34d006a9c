// Package retry re-runs a call while it fails with a transient
// "service unavailable" signal.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrExhausted = errors.New("retries exhausted")

// Policy is a bounded, fixed-delay retry policy.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration

	// Retryable defaults to Unavailable.
	Retryable func(error) bool
	// Sleep defaults to a context-aware timer.
	Sleep func(context.Context, time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error)
}

// Do invokes op until it succeeds, fails with a non-retryable error (returned
// as is) or MaxAttempts transient failures occur (ErrExhausted wrapping the
// last failure).
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = Unavailable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = wait
	}
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if attempt >= limit {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return zero, err
		}
	}
}

// Unavailable reports whether err carries an HTTP 503 status.
func Unavailable(err error) bool {
	var sc interface{ StatusCode() int }
	return errors.As(err, &sc) && sc.StatusCode() == http.StatusServiceUnavailable
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
