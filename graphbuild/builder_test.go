package graphbuild

import (
	"context"
	"testing"

	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/embedder"
	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kg"
)

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

func TestBuild_PopulatesEntitiesRelationshipsAndTextUnits(t *testing.T) {
	g := kg.New()
	ch := chunker.New(chunker.Config{MaxTokens: 200, OverlapTokens: 10})
	emb := fakeEmbedder{dim: 8}

	stub := jsonmodel.NewStub(`{"summary":"fallback"}`)
	stub.Responses["extraction"] = `{"entities":[{"name":"graph neural network","type":"Concept","description":"a model family"},{"name":"alice smith","type":"Person","description":"an author"}],"relationships":[{"source":"alice smith","target":"graph neural network","description":"proposed"}]}`

	b := New(g, ch, emb, stub, DefaultConfig())

	docs := []kg.Document{
		{ID: "doc1", Title: "On Graph Neural Networks", Content: "Graph neural networks are a family of models. Alice Smith proposed several extensions."},
	}

	if err := b.Build(context.Background(), docs); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if g.EntityCount() != 2 {
		t.Fatalf("expected 2 entities, got %d", g.EntityCount())
	}
	if !g.HasEntity("graph neural network") || !g.HasEntity("alice smith") {
		t.Fatalf("expected both entities present")
	}
	if g.RelationshipCount() != 1 {
		t.Fatalf("expected 1 relationship, got %d", g.RelationshipCount())
	}
	if g.TextUnitCount() == 0 {
		t.Fatalf("expected text units to have been produced")
	}

	units := g.TextUnitsForDocument("doc1")
	for _, u := range units {
		if len(u.Embedding) != 8 {
			t.Fatalf("expected embedding dimension 8, got %d", len(u.Embedding))
		}
	}
}

func TestDetectCommunities_MinSizeInvariant(t *testing.T) {
	g := kg.New()
	names := []string{"a", "b", "c", "d", "e", "f", "isolated"}
	for _, n := range names {
		g.AddEntity(kg.Entity{Name: n, Type: kg.EntityConcept})
	}
	// a,b,c,d,e,f form a dense clique; "isolated" has no edges.
	for i, x := range names[:6] {
		for _, y := range names[:6][i+1:] {
			g.AddRelationship(kg.Relationship{Source: x, Target: y})
		}
	}

	communities := detectCommunities(g, 3, 5)
	if len(communities) == 0 {
		t.Fatalf("expected at least one community")
	}
	for _, c := range communities {
		if len(c.Members) < 3 {
			t.Fatalf("community %s has %d members, want >= 3", c.ID, len(c.Members))
		}
	}
	for _, c := range communities {
		for _, m := range c.Members {
			if m.Name == "isolated" {
				t.Fatalf("isolated node should not appear in any community")
			}
		}
	}
}

func TestDetectCommunities_Deterministic(t *testing.T) {
	g := kg.New()
	names := []string{"n1", "n2", "n3", "n4", "n5", "n6", "n7", "n8", "n9"}
	for _, n := range names {
		g.AddEntity(kg.Entity{Name: n, Type: kg.EntityConcept})
	}
	edges := [][2]string{{"n1", "n2"}, {"n2", "n3"}, {"n1", "n3"}, {"n4", "n5"}, {"n5", "n6"}, {"n4", "n6"}, {"n7", "n8"}, {"n8", "n9"}, {"n7", "n9"}}
	for _, e := range edges {
		g.AddRelationship(kg.Relationship{Source: e[0], Target: e[1]})
	}

	first := detectCommunities(g, 3, 5)
	second := detectCommunities(g, 3, 5)

	if len(first) != len(second) {
		t.Fatalf("non-deterministic community count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || len(first[i].Members) != len(second[i].Members) {
			t.Fatalf("non-deterministic community at index %d", i)
		}
	}
}

func TestBatchTextUnits_RespectsTokenBudget(t *testing.T) {
	units := []kg.TextUnit{
		{DocumentID: "d", UnitID: "d_0", NumTokens: 1000},
		{DocumentID: "d", UnitID: "d_1", NumTokens: 1000},
		{DocumentID: "d", UnitID: "d_2", NumTokens: 1000},
	}
	batches := batchTextUnits(units, 2000)
	for _, b := range batches {
		sum := 0
		for _, u := range b.units {
			sum += u.NumTokens
		}
		if sum > 2000 {
			t.Fatalf("batch exceeds token budget: %d", sum)
		}
	}
}
