package codeextract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractDiscardsShortBlocks(t *testing.T) {
	md := "before\n```go\nx := 1\n```\nafter"
	blocks := Extract(md, 250)
	require.Empty(t, blocks)
}

func TestExtractCapturesLanguageAndContext(t *testing.T) {
	body := strings.Repeat("line_of_code()\n", 30)
	md := strings.Repeat("intro text ", 200) + "\n```python\n" + body + "```\n" + strings.Repeat("outro text ", 200)
	blocks := Extract(md, 100)
	require.Len(t, blocks, 1)
	b := blocks[0]
	require.Equal(t, "python", b.Language)
	require.Contains(t, b.Code, "line_of_code()")
	require.NotEmpty(t, b.ContextBefore)
	require.NotEmpty(t, b.ContextAfter)
	require.LessOrEqual(t, len(b.ContextBefore), 1000)
	require.LessOrEqual(t, len(b.ContextAfter), 1000)
	require.Equal(t, 30, b.LineCount)
}

type stubSummarizer struct{ fail bool }

func (s stubSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	if s.fail {
		return "", errors.New("llm unavailable")
	}
	return "a helpful summary", nil
}

func TestSummarizeAllDefaultsOnFailure(t *testing.T) {
	blocks := []CodeBlock{{Code: "x=1"}, {Code: "y=2"}}
	out := SummarizeAll(context.Background(), stubSummarizer{fail: true}, blocks, 4)
	for _, b := range out {
		require.Equal(t, defaultSummary, b.Summary)
	}
}

func TestSummarizeAllUsesLLMOutput(t *testing.T) {
	blocks := []CodeBlock{{Code: "x=1"}, {Code: "y=2"}}
	out := SummarizeAll(context.Background(), stubSummarizer{}, blocks, 4)
	for _, b := range out {
		require.Equal(t, "a helpful summary", b.Summary)
	}
}

func TestSummarizeAllNilLLM(t *testing.T) {
	blocks := []CodeBlock{{Code: "x=1"}}
	out := SummarizeAll(context.Background(), nil, blocks, 4)
	require.Equal(t, defaultSummary, out[0].Summary)
}
