package concurrency

import (
	"context"
	"sync"
)

// Result wraps either a successful value or the error a single item's call
// produced; RunBatched never propagates a per-item error to the caller.
type Result[T any] struct {
	Value T
	Err   error
}

// RunBatched applies fn to every item, bounded to maxConcurrent in-flight
// calls at a time, preserving input order in the returned slice. It is used
// by the code-block extractor (C5) to summarize code blocks concurrently
// and by the context enricher (C4) to enrich chunks concurrently.
func RunBatched[T any, R any](ctx context.Context, items []T, maxConcurrent int, fn func(context.Context, T) (R, error)) []Result[R] {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	results := make([]Result[R], len(items))
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			v, err := fn(ctx, item)
			results[i] = Result[R]{Value: v, Err: err}
		}(i, item)
	}
	wg.Wait()
	return results
}
