package enrich

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens int64 = 1024

// AnthropicLLM calls the Anthropic Messages API to satisfy Summarize; an
// alternative to OpenAILLM selected by completions.provider: "anthropic".
type AnthropicLLM struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropicLLM builds an AnthropicLLM. host, if set, overrides the SDK base
// URL (e.g. for a compatible proxy).
func NewAnthropicLLM(host, apiKey, model string) *AnthropicLLM {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	}
	if host != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(host, "/")))
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicLLM{sdk: anthropic.NewClient(opts...), model: model}
}

// Summarize sends prompt as the sole user message and returns the
// concatenated text blocks of the reply.
func (l *AnthropicLLM) Summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := l.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(l.model),
		MaxTokens: defaultAnthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic message: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic message returned no text content")
	}
	return sb.String(), nil
}
