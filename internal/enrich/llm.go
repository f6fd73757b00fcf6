package enrich

import (
	"context"
	"fmt"
	"net/http"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLM calls an OpenAI (or OpenAI-compatible, e.g. llama.cpp / mlx_lm)
// chat completions endpoint to satisfy a single-prompt Summarize call; it also
// satisfies codeextract.Summarizer, which shares the same contract.
type OpenAILLM struct {
	sdk         sdk.Client
	model       string
	temperature float64
}

// NewOpenAILLM builds an OpenAILLM. host, if non-empty, is sent as the SDK
// base URL, matching how self-hosted OpenAI-compatible servers are addressed.
func NewOpenAILLM(host, apiKey, model string, temperature float64) *OpenAILLM {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if host != "" {
		opts = append(opts, option.WithBaseURL(host))
	}
	opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}))
	return &OpenAILLM{
		sdk:         sdk.NewClient(opts...),
		model:       model,
		temperature: temperature,
	}
}

// Summarize sends prompt as the sole user message and returns the first
// choice's content.
func (l *OpenAILLM) Summarize(ctx context.Context, prompt string) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(l.model),
		Messages:    []sdk.ChatCompletionMessageParamUnion{sdk.UserMessage(prompt)},
		Temperature: sdk.Float(l.temperature),
	}
	comp, err := l.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return comp.Choices[0].Message.Content, nil
}
