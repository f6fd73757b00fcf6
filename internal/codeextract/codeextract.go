// Package codeextract implements the code-block extractor (C5): it mines
// fenced code blocks at or above a minimum size from markdown, each paired
// with surrounding context, and summarizes them through an LLM with a
// bounded worker pool.
package codeextract

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"ragserver/internal/concurrency"
)

const contextWindow = 1000

// CodeBlock is a single mined fenced code block.
type CodeBlock struct {
	Code          string
	Language      string
	ContextBefore string
	ContextAfter  string
	LineCount     int
	Summary       string
}

// Extract scans markdown for fenced code regions and returns every block
// whose body is at least minChars long, each with ~contextWindow characters
// of surrounding non-code markdown.
func Extract(markdown string, minChars int) []CodeBlock {
	if minChars <= 0 {
		minChars = 250
	}

	type rawFence struct {
		openStart, openEnd int // span of the opening ``` + language word + newline
		bodyStart, bodyEnd int // span of the code body
		closeEnd           int // position right after the closing ```
		language           string
	}

	var fences []rawFence
	pos := 0
	for {
		open := strings.Index(markdown[pos:], "```")
		if open == -1 {
			break
		}
		open += pos
		lineEnd := strings.IndexByte(markdown[open:], '\n')
		if lineEnd == -1 {
			break
		}
		lineEnd += open
		language := strings.TrimSpace(markdown[open+3 : lineEnd])
		bodyStart := lineEnd + 1

		closeIdx := strings.Index(markdown[bodyStart:], "```")
		if closeIdx == -1 {
			break
		}
		closeIdx += bodyStart
		fences = append(fences, rawFence{
			openStart: open,
			openEnd:   lineEnd + 1,
			bodyStart: bodyStart,
			bodyEnd:   closeIdx,
			closeEnd:  closeIdx + 3,
			language:  language,
		})
		pos = closeIdx + 3
	}

	var blocks []CodeBlock
	for _, f := range fences {
		body := markdown[f.bodyStart:f.bodyEnd]
		trimmedBody := strings.TrimRight(body, "\n")
		if len(trimmedBody) < minChars {
			continue
		}

		before := markdown[:f.openStart]
		if len(before) > contextWindow {
			before = before[len(before)-contextWindow:]
		}
		after := markdown[f.closeEnd:]
		if len(after) > contextWindow {
			after = after[:contextWindow]
		}

		blocks = append(blocks, CodeBlock{
			Code:          trimmedBody,
			Language:      f.language,
			ContextBefore: before,
			ContextAfter:  after,
			LineCount:     strings.Count(trimmedBody, "\n") + 1,
		})
	}
	return blocks
}

// Summarizer is the summarization LLM contract (section 6), used only by C4
// and C5; failures are non-fatal.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

const defaultSummary = "Code example for demonstration purposes."

// SummarizeAll produces a single-LLM-call summary per block, bounded by
// maxConcurrent workers. On failure the summary defaults to a fixed string
// and the pipeline proceeds; the input order is preserved.
func SummarizeAll(ctx context.Context, llm Summarizer, blocks []CodeBlock, maxConcurrent int) []CodeBlock {
	if llm == nil {
		for i := range blocks {
			blocks[i].Summary = defaultSummary
		}
		return blocks
	}

	results := concurrency.RunBatched(ctx, blocks, maxConcurrent, func(ctx context.Context, b CodeBlock) (string, error) {
		prompt := buildSummaryPrompt(b)
		return llm.Summarize(ctx, prompt)
	})

	out := make([]CodeBlock, len(blocks))
	for i, b := range blocks {
		out[i] = b
		if results[i].Err != nil {
			logrus.WithError(results[i].Err).Debug("code summary failed, using default")
			out[i].Summary = defaultSummary
			continue
		}
		summary := strings.TrimSpace(results[i].Value)
		if summary == "" {
			summary = defaultSummary
		}
		out[i].Summary = summary
	}
	return out
}

func buildSummaryPrompt(b CodeBlock) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following code example in one or two sentences.\n\n")
	if b.ContextBefore != "" {
		sb.WriteString("Context before:\n")
		sb.WriteString(b.ContextBefore)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Code:\n")
	sb.WriteString(b.Code)
	if b.ContextAfter != "" {
		sb.WriteString("\n\nContext after:\n")
		sb.WriteString(b.ContextAfter)
	}
	return sb.String()
}
