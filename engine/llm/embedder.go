// Package llm provides the C2 model-access boundary: an Embedder for
// vector generation and a complexity-tiered Generator for chat
// completions, plus the shared envelope-parsing helper every caller of
// the generator uses to pull structured output out of a free-text reply.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/pkg/resilience"
)

// Embedder produces vector embeddings for entity names, statement facts,
// and episode content (spec §4.2's three embedding kinds). Outbound calls
// to the Ollama endpoint are rate-limited and circuit-broken, matching
// the adapter-boundary posture every AdapterError-raising client in this
// package takes.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

// NewEmbedder creates an Ollama-backed Embedder.
func NewEmbedder(baseURL, model string) *Embedder {
	return &Embedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: 20, Burst: 20}),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	var vals []float32
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		return e.limiter.CallWait(ctx, func(ctx context.Context) error {
			v, err := e.doEmbed(ctx, text)
			if err != nil {
				return err
			}
			vals = v
			return nil
		})
	})
	if err != nil {
		if err == resilience.ErrCircuitOpen {
			return nil, domain.NewAdapterError("embedder", err)
		}
		return nil, err
	}
	return vals, nil
}

func (e *Embedder) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedReq{Model: e.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, domain.NewAdapterError("embedder", fmt.Errorf("request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewAdapterError("embedder", fmt.Errorf("status %d", resp.StatusCode))
	}

	var out ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewAdapterError("embedder", fmt.Errorf("decode: %w", err))
	}

	vals := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vals[i] = float32(v)
	}
	return vals, nil
}

// EmbedBatch embeds each text in order, failing the whole batch on the
// first error since a partial embedding set cannot be meaningfully used
// by a caller expecting one vector per input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
