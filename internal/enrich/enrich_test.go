package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	fail bool
}

func (s stubLLM) Summarize(ctx context.Context, prompt string) (string, error) {
	if s.fail {
		return "", errors.New("llm down")
	}
	return "context summary", nil
}

func TestEnrichAllDisabledPassesThrough(t *testing.T) {
	chunks := []Chunk{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}}
	out := EnrichAll(context.Background(), stubLLM{}, "full doc", chunks, false, 4)
	for i, r := range out {
		require.Equal(t, chunks[i].Text, r.Text)
		require.False(t, r.UsedLLM)
	}
}

func TestEnrichAllPrependsSummaryOnSuccess(t *testing.T) {
	chunks := []Chunk{{Index: 0, Text: "chunk text"}}
	out := EnrichAll(context.Background(), stubLLM{}, "full doc", chunks, true, 4)
	require.True(t, out[0].UsedLLM)
	require.Contains(t, out[0].Text, "context summary")
	require.Contains(t, out[0].Text, "chunk text")
}

func TestEnrichAllFallsBackOnLLMFailure(t *testing.T) {
	chunks := []Chunk{{Index: 0, Text: "chunk text"}}
	out := EnrichAll(context.Background(), stubLLM{fail: true}, "full doc", chunks, true, 4)
	require.False(t, out[0].UsedLLM)
	require.Equal(t, "chunk text", out[0].Text)
}

func TestEnrichAllPreservesIndexOrder(t *testing.T) {
	chunks := []Chunk{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}, {Index: 2, Text: "c"}}
	out := EnrichAll(context.Background(), stubLLM{}, "full doc", chunks, true, 2)
	for i, r := range out {
		require.Equal(t, chunks[i].Index, r.Index)
	}
}
