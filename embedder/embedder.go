// Package embedder implements the Embedder port (§6): text to
// fixed-dimension vector, with cosine similarity.
package embedder

import (
	"context"
	"fmt"
	"math"

	"github.com/sotatable/sota/llm"
)

// Embedding is a fixed-dimension vector produced by an Embedder.
type Embedding struct {
	Vector []float32
}

// Similarity returns the cosine similarity with other, or (0, false) on
// a dimension mismatch.
func (e Embedding) Similarity(other Embedding) (float64, bool) {
	if len(e.Vector) != len(other.Vector) || len(e.Vector) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range e.Vector {
		dot += float64(e.Vector[i]) * float64(other.Vector[i])
		na += float64(e.Vector[i]) * float64(e.Vector[i])
		nb += float64(other.Vector[i]) * float64(other.Vector[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

// Embedder embeds text into a fixed-dimension vector. D is a
// system-wide constant per run (§6).
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)
	Dim() int
}

// llmEmbedder adapts an llm.Provider into the Embedder port.
type llmEmbedder struct {
	provider llm.Provider
	dim      int
}

// New wraps an llm.Provider as an Embedder with the given declared
// dimension. The dimension is not validated against the provider's
// actual output per-call (providers are trusted to be configured
// consistently for the lifetime of a run, per the "D is a system-wide
// constant per run" contract).
func New(provider llm.Provider, dim int) Embedder {
	return &llmEmbedder{provider: provider, dim: dim}
}

func (e *llmEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	vecs, err := e.provider.Embed(ctx, []string{text})
	if err != nil {
		return Embedding{}, fmt.Errorf("embedder: %w", err)
	}
	if len(vecs) == 0 {
		return Embedding{}, fmt.Errorf("embedder: provider returned no vectors")
	}
	return Embedding{Vector: vecs[0]}, nil
}

func (e *llmEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	out := make([]Embedding, len(vecs))
	for i, v := range vecs {
		out[i] = Embedding{Vector: v}
	}
	return out, nil
}

func (e *llmEmbedder) Dim() int {
	return e.dim
}
