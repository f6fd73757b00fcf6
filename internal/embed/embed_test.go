package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func allZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func TestEmbedZeroVectorFallback(t *testing.T) {
	provider := &DeterministicProvider{Dimensions: 8, FailOn: map[string]bool{"die": true}}
	b := NewBatcher(provider, 20)

	vectors := b.Embed(context.Background(), []string{"hi", "die", "ok"})
	require.Len(t, vectors, 3)
	require.False(t, allZero(vectors[0]))
	require.True(t, allZero(vectors[1]))
	require.False(t, allZero(vectors[2]))
	for _, v := range vectors {
		require.Len(t, v, 8)
	}
}

func TestEmbedPreservesOrderAndCount(t *testing.T) {
	provider := &DeterministicProvider{Dimensions: 4}
	b := NewBatcher(provider, 2)

	texts := []string{"a", "b", "c", "d", "e"}
	vectors := b.Embed(context.Background(), texts)
	require.Len(t, vectors, len(texts))
	for i := range texts {
		require.False(t, allZero(vectors[i]))
	}
}

func TestEmbedIsDeterministic(t *testing.T) {
	provider := &DeterministicProvider{Dimensions: 4}
	b := NewBatcher(provider, 20)
	a := b.Embed(context.Background(), []string{"repeat"})
	c := b.Embed(context.Background(), []string{"repeat"})
	require.Equal(t, a, c)
}
