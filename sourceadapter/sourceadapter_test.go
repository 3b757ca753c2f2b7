package sourceadapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sotatable/sota/resilience"
)

func TestArxivAdapter_SearchParsesAtomFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(`<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1234.5678v2</id>
    <title>A Paper About Graphs</title>
    <summary>This paper studies graphs.</summary>
    <author><name>Ada Lovelace</name></author>
  </entry>
</feed>`))
	}))
	defer srv.Close()

	a := &ArxivAdapter{
		httpClient: srv.Client(),
		breaker:    resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "test"}),
		backoff:    resilience.BackoffConfig{MaxRetries: 0, BaseDelay: time.Millisecond, MinRateLimit: time.Millisecond},
	}

	entries, err := a.search(context.Background(), "graphs", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].id != "1234.5678" {
		t.Fatalf("expected id 1234.5678, got %q", entries[0].id)
	}
	if entries[0].authors[0] != "Ada Lovelace" {
		t.Fatalf("expected author Ada Lovelace, got %v", entries[0].authors)
	}
}

func TestSemanticScholarAdapter_SearchParsesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"paperId":"abc","title":"A Study","abstract":"An abstract.","authors":[{"name":"Bob"}]}]}`))
	}))
	defer srv.Close()

	s := &SemanticScholarAdapter{
		httpClient: srv.Client(),
		breaker:    resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "test"}),
		backoff:    resilience.BackoffConfig{MaxRetries: 0, BaseDelay: time.Millisecond, MinRateLimit: time.Millisecond},
	}

	papers, err := s.search(context.Background(), "study", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(papers) != 1 || papers[0].Title != "A Study" {
		t.Fatalf("unexpected papers: %+v", papers)
	}
}

func TestLocalFileAdapter_MatchesFilenameAndParsesText(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "graphrag-survey.txt"), []byte("Graph-based retrieval augmented generation survey."), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("something else"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	a := NewLocalFileAdapter(dir)
	docs, err := a.Recover(context.Background(), "graphrag survey", 5, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 matching document, got %d", len(docs))
	}
	if docs[0].Content == "" {
		t.Fatalf("expected non-empty content")
	}
}
