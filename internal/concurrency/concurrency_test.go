package concurrency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheGetSetAndEviction(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Set("c", []byte("3")) // evicts "a", the least-recently-used

	_, ok := c.Get("a")
	require.False(t, ok)
	v, ok := c.Get("b")
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
	require.EqualValues(t, 1, c.Evictions)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10, time.Millisecond)
	c.Set("k", []byte("v"))
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestBreakerOpensAfterThresholdAndProbes(t *testing.T) {
	b := NewBreaker(3, 20*time.Millisecond)
	failing := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Call(func() error { return failing })
		require.ErrorIs(t, err, failing)
	}
	require.Equal(t, Open, b.CurrentState())

	// fails fast without invoking the wrapped call
	called := false
	err := b.Call(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrBreakerOpen)
	require.False(t, called)

	time.Sleep(25 * time.Millisecond)
	require.Equal(t, HalfOpen, b.CurrentState())

	err = b.Call(func() error { return nil })
	require.NoError(t, err)
	require.Equal(t, Closed, b.CurrentState())
}

func TestRunBatchedPreservesOrderAndIsolatesErrors(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	results := RunBatched(context.Background(), items, 2, func(ctx context.Context, i int) (int, error) {
		if i == 3 {
			return 0, errors.New("bad item")
		}
		return i * 10, nil
	})
	require.Len(t, results, 5)
	for i, r := range results {
		if items[i] == 3 {
			require.Error(t, r.Err)
			continue
		}
		require.NoError(t, r.Err)
		require.Equal(t, items[i]*10, r.Value)
	}
}

func TestRetryPolicyFallsBackAfterExhaustingAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		return errors.New("still failing")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryPolicySucceedsEventually(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}
