// Package enrich implements the context enricher (C4): an optional per-chunk
// transformation that prepends an LLM-generated chunk-in-document summary.
package enrich

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"ragserver/internal/concurrency"
)

// LLM is the summarization LLM contract (section 6); failures are non-fatal.
type LLM interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

const separator = "\n---\n"

// Chunk is a single document chunk entering enrichment, keyed by index so
// the bounded worker pool can emit results independent of completion order.
type Chunk struct {
	Index int
	Text  string
}

// Result is the output of enriching a single chunk: the possibly-prefixed
// text and whether the LLM call actually produced the prefix.
type Result struct {
	Index  int
	Text   string
	UsedLLM bool
}

// EnrichAll enriches every chunk against the full document, gated by enabled.
// When disabled or the LLM call fails for a chunk, that chunk passes through
// unchanged with UsedLLM=false. Work is parallelized bounded by workers; there
// is no ordering dependency between chunks.
func EnrichAll(ctx context.Context, llm LLM, fullDocument string, chunks []Chunk, enabled bool, workers int) []Result {
	if !enabled || llm == nil {
		out := make([]Result, len(chunks))
		for i, c := range chunks {
			out[i] = Result{Index: c.Index, Text: c.Text, UsedLLM: false}
		}
		return out
	}

	raw := concurrency.RunBatched(ctx, chunks, workers, func(ctx context.Context, c Chunk) (Result, error) {
		prompt := buildPrompt(fullDocument, c.Text)
		summary, err := llm.Summarize(ctx, prompt)
		if err != nil {
			return Result{Index: c.Index, Text: c.Text, UsedLLM: false}, nil
		}
		summary = strings.TrimSpace(summary)
		if summary == "" {
			return Result{Index: c.Index, Text: c.Text, UsedLLM: false}, nil
		}
		return Result{Index: c.Index, Text: summary + separator + c.Text, UsedLLM: true}, nil
	})

	out := make([]Result, len(raw))
	for i, r := range raw {
		if r.Err != nil {
			logrus.WithError(r.Err).Debug("chunk enrichment failed")
			out[i] = Result{Index: chunks[i].Index, Text: chunks[i].Text, UsedLLM: false}
			continue
		}
		out[i] = r.Value
	}
	return out
}

func buildPrompt(fullDocument, chunk string) string {
	var sb strings.Builder
	sb.WriteString("Here is the full document for context:\n\n")
	sb.WriteString(fullDocument)
	sb.WriteString("\n\nHere is a chunk from that document:\n\n")
	sb.WriteString(chunk)
	sb.WriteString("\n\nWrite a single short paragraph of context that situates this chunk within the document. Respond with only that paragraph.")
	return sb.String()
}
