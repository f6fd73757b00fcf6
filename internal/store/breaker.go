package store

import (
	"context"
	"errors"
	"time"

	"ragserver/internal/concurrency"
)

// ErrUnavailable wraps concurrency.ErrBreakerOpen with the collection name,
// surfaced by C11 as VectorStoreUnavailable.
type ErrUnavailable struct {
	Collection string
}

func (e *ErrUnavailable) Error() string {
	return "vector store unavailable: " + e.Collection
}

func (e *ErrUnavailable) Unwrap() error { return concurrency.ErrBreakerOpen }

// BreakerBackend wraps a Backend with a per-collection circuit breaker: after
// FailureThreshold consecutive failures it fast-fails every call for CoolOff
// before allowing a single probe through, matching the shared breaker policy
// applied to every external dependency.
type BreakerBackend struct {
	inner      Backend
	breaker    *concurrency.Breaker
	collection string
}

// NewBreakerBackend wraps inner with a breaker using the given policy.
func NewBreakerBackend(inner Backend, collection string, failureThreshold int, coolOff time.Duration) *BreakerBackend {
	return &BreakerBackend{inner: inner, breaker: concurrency.NewBreaker(failureThreshold, coolOff), collection: collection}
}

func (b *BreakerBackend) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	err := b.breaker.Call(func() error { return b.inner.Upsert(ctx, id, vector, payload) })
	return b.translate(err)
}

func (b *BreakerBackend) Delete(ctx context.Context, id string) error {
	err := b.breaker.Call(func() error { return b.inner.Delete(ctx, id) })
	return b.translate(err)
}

func (b *BreakerBackend) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Hit, error) {
	var hits []Hit
	err := b.breaker.Call(func() error {
		var callErr error
		hits, callErr = b.inner.SimilaritySearch(ctx, vector, k, filter)
		return callErr
	})
	return hits, b.translate(err)
}

func (b *BreakerBackend) Scroll(ctx context.Context, filter map[string]string) ([]Hit, error) {
	var hits []Hit
	err := b.breaker.Call(func() error {
		var callErr error
		hits, callErr = b.inner.Scroll(ctx, filter)
		return callErr
	})
	return hits, b.translate(err)
}

func (b *BreakerBackend) translate(err error) error {
	if errors.Is(err, concurrency.ErrBreakerOpen) {
		return &ErrUnavailable{Collection: b.collection}
	}
	return err
}
