package expertset

import (
	"context"

	"github.com/sotatable/sota/embedder"
	"github.com/sotatable/sota/kg"
)

// fakeEmbedder mirrors graphbuild's test embedder: deterministic,
// content-derived vectors, no network.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Embed(_ context.Context, text string) (embedder.Embedding, error) {
	v := make([]float32, f.dim)
	for i, r := range text {
		v[i%f.dim] += float32(r % 7)
	}
	return embedder.Embedding{Vector: v}, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]embedder.Embedding, error) {
	out := make([]embedder.Embedding, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func (f fakeEmbedder) Dim() int { return f.dim }

// stubRecoverer is a KnowledgeRecoverer test double returning a fixed
// document set regardless of query.
type stubRecoverer struct {
	docs       []kg.Document
	surveyDocs []kg.Document
}

func (s stubRecoverer) RecoverDocs(_ context.Context, _ string, k int) ([]kg.Document, error) {
	if k > 0 && k < len(s.docs) {
		return s.docs[:k], nil
	}
	return s.docs, nil
}

func (s stubRecoverer) GetSurveyDocs(_ context.Context, _ string, _ int) ([]kg.Document, error) {
	return s.surveyDocs, nil
}

// stubUserAPI is a UserAPI test double that returns a fixed answer.
type stubUserAPI struct {
	answer string
	asked  []string
}

func (s *stubUserAPI) QueryUser(_ context.Context, prompt string) (string, error) {
	s.asked = append(s.asked, prompt)
	return s.answer, nil
}

func (s *stubUserAPI) MessageUser(_ context.Context, _ string) error {
	return nil
}

func testExperts(n int) []*Expert {
	experts := make([]*Expert, n)
	for i := 0; i < n; i++ {
		experts[i] = &Expert{ID: expertID(i), Name: expertID(i), Description: "domain " + expertID(i)}
	}
	return experts
}
