package recoverer

import (
	"context"
	"testing"

	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/embedder"
	"github.com/sotatable/sota/graphbuild"
	"github.com/sotatable/sota/graphquery"
	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kg"
)

type zeroEmbedder struct{ dim int }

func (z zeroEmbedder) Embed(_ context.Context, _ string) (embedder.Embedding, error) {
	return embedder.Embedding{Vector: make([]float32, z.dim)}, nil
}
func (z zeroEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]embedder.Embedding, error) {
	out := make([]embedder.Embedding, len(texts))
	for i := range texts {
		out[i], _ = z.Embed(ctx, texts[i])
	}
	return out, nil
}
func (z zeroEmbedder) Dim() int { return z.dim }

func TestRecoverDocs_SufficientOnFirstIteration(t *testing.T) {
	g := kg.New()
	g.AddDocument(kg.Document{ID: "d1", Title: "Doc"})
	g.AddTextUnit(kg.TextUnit{DocumentID: "d1", UnitID: "d1_0", Text: "alpha content", Embedding: []float32{1, 0}})

	stub := jsonmodel.NewStub(`{}`)
	stub.Responses["global_answer"] = `{"answer":"alpha","key_insights":[],"confidence":0.9,"reasoning":"r"}`
	stub.Responses["follow_ups"] = `{"follow_ups":[]}`
	stub.Responses["synthesis"] = `{"executive_summary":"alpha summary","global_insights":"","local_findings":"","confidence_assessment":"","recommendations":""}`
	stub.Responses["sufficiency"] = `{"reasoning":"enough","answer":true}`

	qe := graphquery.New(g, zeroEmbedder{dim: 2}, stub, graphquery.DefaultConfig())
	b := graphbuild.New(g, chunker.New(chunker.DefaultConfig()), zeroEmbedder{dim: 2}, stub, graphbuild.DefaultConfig())

	r := New(qe, b, stub, nil, nil, DefaultConfig())
	docs, err := r.RecoverDocs(context.Background(), "alpha?", 3)
	if err != nil {
		t.Fatalf("RecoverDocs: %v", err)
	}
	_ = docs // no text units have a non-trivial embedding overlap; just assert no error and no panic
	if stub.Calls == 0 {
		t.Fatalf("expected at least one model call")
	}
}

func TestGetSurveyDocs_NoSurveyConfigured(t *testing.T) {
	g := kg.New()
	stub := jsonmodel.NewStub(`{}`)
	qe := graphquery.New(g, zeroEmbedder{dim: 2}, stub, graphquery.DefaultConfig())
	b := graphbuild.New(g, chunker.New(chunker.DefaultConfig()), zeroEmbedder{dim: 2}, stub, graphbuild.DefaultConfig())

	r := New(qe, b, stub, nil, nil, DefaultConfig())
	docs, err := r.GetSurveyDocs(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("GetSurveyDocs: %v", err)
	}
	if docs != nil {
		t.Fatalf("expected nil docs when no survey adapter is configured")
	}
}
