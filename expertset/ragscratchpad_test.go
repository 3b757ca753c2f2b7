package expertset

import (
	"context"
	"testing"

	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/kg"
)

func TestRagScratchpad_IngestAndQuery(t *testing.T) {
	pad := NewRagScratchpad(fakeEmbedder{dim: 8})
	doc := kg.Document{ID: "doc1", Title: "On Attention", Content: "Attention mechanisms weight input tokens. Transformers stack attention layers."}

	if err := pad.Ingest(context.Background(), doc, chunker.Config{MaxTokens: 20, OverlapTokens: 2}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if pad.Len() == 0 {
		t.Fatalf("expected at least one chunk ingested")
	}

	results, err := pad.Query(context.Background(), "attention mechanisms", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	for _, r := range results {
		if r.DocumentID != "doc1" || r.DocumentTitle != "On Attention" {
			t.Fatalf("unexpected provenance on result: %+v", r)
		}
	}
}

func TestBuildExpert_IngestsSurveyDocs(t *testing.T) {
	recov := stubRecoverer{surveyDocs: []kg.Document{
		{ID: "s1", Title: "Survey A", Content: "A broad survey of the field. It covers many methods."},
	}}

	e, err := BuildExpert(context.Background(), "expert_0", "NLP expert", "natural language processing", recov, fakeEmbedder{dim: 4}, chunker.DefaultConfig(), 3)
	if err != nil {
		t.Fatalf("BuildExpert: %v", err)
	}
	if e.Scratchpad.Len() == 0 {
		t.Fatalf("expected expert's scratchpad to be populated from survey docs")
	}
}
