package concurrency

import (
	"context"
	"time"
)

// RetryPolicy is a small, reusable retry-with-backoff policy shared across
// the embedding batcher (C6) and the LLM call sites in the context enricher
// (C4) and code-block extractor (C5), rather than ad-hoc retry loops at each
// call site.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy matches the embedding batcher's documented contract:
// up to 3 attempts with exponential backoff base·2^i seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

// Do invokes fn up to MaxAttempts times, sleeping BaseDelay*Multiplier^i
// between attempts, and returns the last error if every attempt fails.
// It returns immediately if ctx is cancelled between attempts.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		delay := p.BaseDelay
		for j := 0; j < i; j++ {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
