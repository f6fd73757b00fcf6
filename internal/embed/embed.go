// Package embed implements the embedding batcher (C6): it converts text
// batches into fixed-dimension vectors through an external embedding
// provider, with batch-then-per-item retry and zero-vector fallback.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"ragserver/internal/concurrency"
)

// Provider is the external embedding provider contract (section 6): given a
// batch of texts, return one vector per text, in order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Batcher implements the C6 contract on top of a Provider, applying the
// batch-size grouping, retry-with-backoff, and per-item zero-vector fallback
// described in the component contract.
type Batcher struct {
	provider  Provider
	retry     concurrency.RetryPolicy
	batchSize int
}

// NewBatcher builds a Batcher with the documented default retry policy
// (3 attempts, exponential backoff).
func NewBatcher(provider Provider, batchSize int) *Batcher {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Batcher{provider: provider, retry: concurrency.DefaultRetryPolicy(), batchSize: batchSize}
}

// Embed converts texts into D-vectors, one per input text, preserving order.
// It is pure with respect to input order: callers may cache the result.
func (b *Batcher) Embed(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	dim := b.provider.Dimension()

	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var vectors [][]float32
		err := b.retry.Do(ctx, func() error {
			v, err := b.provider.Embed(ctx, batch)
			if err != nil {
				return err
			}
			if len(v) != len(batch) {
				return fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(v), len(batch))
			}
			vectors = v
			return nil
		})
		if err == nil {
			copy(out[start:end], vectors)
			continue
		}

		logrus.WithError(err).Warn("embedding batch failed, falling back to per-item calls")
		for i, text := range batch {
			idx := start + i
			var vec []float32
			itemErr := b.retry.Do(ctx, func() error {
				v, err := b.provider.Embed(ctx, []string{text})
				if err != nil {
					return err
				}
				if len(v) != 1 {
					return fmt.Errorf("embedding provider returned %d vectors for 1 input", len(v))
				}
				vec = v[0]
				return nil
			})
			if itemErr != nil {
				logrus.WithError(itemErr).WithField("index", idx).Warn("embedding item failed, using zero vector")
				out[idx] = make([]float32, dim)
				continue
			}
			out[idx] = vec
		}
	}
	return out
}

// HTTPProvider is an OpenAI-compatible embedding provider reached over a
// plain HTTP JSON endpoint, grounded on the same request/response shape the
// rest of the retrieved corpus uses for its embedding client.
type HTTPProvider struct {
	Host       string
	APIKey     string
	Model      string
	Dimensions int
	Client     *http.Client
}

// NewHTTPProvider builds an HTTPProvider with a bounded request timeout.
func NewHTTPProvider(host, apiKey, model string, dimensions int) *HTTPProvider {
	return &HTTPProvider{
		Host:       host,
		APIKey:     apiKey,
		Model:      model,
		Dimensions: dimensions,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProvider) Dimension() int { return p.Dimensions }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed posts texts to the configured embedding endpoint and returns one
// vector per input in order.
func (p *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embeddingRequest{Model: p.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Host, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embedding provider status %d", resp.StatusCode)
	}
	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response count mismatch: got %d, want %d", len(parsed.Data), len(texts))
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// DeterministicProvider is a hash-based provider used by tests so they never
// depend on network access; it is a faithful stand-in for the provider
// interface and always succeeds unless configured to fail on specific texts.
type DeterministicProvider struct {
	Dimensions int
	FailOn     map[string]bool
}

func (d *DeterministicProvider) Dimension() int { return d.Dimensions }

func (d *DeterministicProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if d.FailOn[t] {
			return nil, fmt.Errorf("simulated embedding failure for %q", t)
		}
		out[i] = hashVector(t, d.Dimensions)
	}
	return out, nil
}

func hashVector(s string, dim int) []float32 {
	v := make([]float32, dim)
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
		v[i%dim] += float32(h%997) / 997.0
	}
	return v
}
