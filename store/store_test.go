//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sotatable/sota/kg"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func sampleDoc(id string) kg.Document {
	return kg.Document{
		ID:       id,
		Title:    "A Transformer Paper",
		Abstract: "We propose a new transformer variant.",
		Authors:  []string{"A. Researcher", "B. Researcher"},
		Content:  "Full text of the paper.",
	}
}

func TestUpsertAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("doc1")
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("upserting document: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatalf("getting document: %v", err)
	}
	if got.Title != doc.Title || len(got.Authors) != 2 {
		t.Fatalf("unexpected document: %+v", got)
	}
}

func TestUpsertDocumentReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("doc1")
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	doc.Title = "Revised Title"
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("re-upserting document: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatalf("getting document: %v", err)
	}
	if got.Title != "Revised Title" {
		t.Fatalf("expected updated title, got %q", got.Title)
	}
}

func TestListDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"doc1", "doc2"} {
		if err := s.UpsertDocument(ctx, sampleDoc(id)); err != nil {
			t.Fatalf("upserting %s: %v", id, err)
		}
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("listing documents: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
}

func TestTestCaseQueriesAndRelevance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"doc1", "doc2"} {
		if err := s.UpsertDocument(ctx, sampleDoc(id)); err != nil {
			t.Fatalf("upserting %s: %v", id, err)
		}
	}

	if err := s.CreateTestCase(ctx, "tc1", []string{"efficient transformers", "long-context inference"}); err != nil {
		t.Fatalf("creating test case: %v", err)
	}
	if err := s.AddRelevantDocument(ctx, "tc1", "doc1", 2); err != nil {
		t.Fatalf("adding relevant document: %v", err)
	}
	if err := s.AddRelevantDocument(ctx, "tc1", "doc2", 1); err != nil {
		t.Fatalf("adding relevant document: %v", err)
	}

	queries, err := s.TestCaseQueries(ctx, "tc1")
	if err != nil {
		t.Fatalf("reading queries: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 seed queries, got %d", len(queries))
	}

	relevance, err := s.TestCaseRelevance(ctx, "tc1")
	if err != nil {
		t.Fatalf("reading relevance: %v", err)
	}
	if relevance["doc1"] != 2 || relevance["doc2"] != 1 {
		t.Fatalf("unexpected relevance map: %v", relevance)
	}
}

func TestAddRelevantDocumentUpdatesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertDocument(ctx, sampleDoc("doc1")); err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	if err := s.AddRelevantDocument(ctx, "tc1", "doc1", 1); err != nil {
		t.Fatalf("adding relevant document: %v", err)
	}
	if err := s.AddRelevantDocument(ctx, "tc1", "doc1", 3); err != nil {
		t.Fatalf("updating relevant document: %v", err)
	}

	relevance, err := s.TestCaseRelevance(ctx, "tc1")
	if err != nil {
		t.Fatalf("reading relevance: %v", err)
	}
	if relevance["doc1"] != 3 {
		t.Fatalf("expected updated relevance 3, got %d", relevance["doc1"])
	}
}

func TestListTestCaseIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTestCase(ctx, "tc1", []string{"q1"}); err != nil {
		t.Fatalf("creating test case: %v", err)
	}
	if err := s.CreateTestCase(ctx, "tc2", []string{"q2"}); err != nil {
		t.Fatalf("creating test case: %v", err)
	}

	ids, err := s.ListTestCaseIDs(ctx)
	if err != nil {
		t.Fatalf("listing test cases: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 test cases, got %d", len(ids))
	}
}
