package expertset

import (
	"context"
	"fmt"
	"sync"

	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/embedder"
	"github.com/sotatable/sota/kg"
	"github.com/sotatable/sota/vectorindex"
)

// ScratchpadChunk is one chunked excerpt held in an Expert's private RAG
// scratchpad, traceable back to the document it came from (§4.12).
type ScratchpadChunk struct {
	DocumentID    string
	DocumentTitle string
	Text          string
}

// RagScratchpad is an Expert's private knowledge store: an embedded-text
// index over chunks ingested from documents the expert has read, queried
// for excerpts during ActionPicker presentation (§4.12). Grounded on
// recoverer/graphquery's
// embedder+vectorindex pairing, scoped down to one expert rather than
// the shared graph.
type RagScratchpad struct {
	embedder embedder.Embedder

	mu     sync.RWMutex
	index  vectorindex.Index
	chunks []ScratchpadChunk // parallel to index ids: chunks[id] is the chunk stored at that id
}

// NewRagScratchpad returns an empty scratchpad backed by an in-memory
// vector index, matching vectorindex.NewMemory's use elsewhere for
// per-run, non-persisted indices.
func NewRagScratchpad(emb embedder.Embedder) *RagScratchpad {
	return &RagScratchpad{embedder: emb, index: vectorindex.NewMemory()}
}

// Ingest chunks doc's content (per §4.1's chunking contract) and stores
// each chunk's embedding plus provenance.
func (s *RagScratchpad) Ingest(ctx context.Context, doc kg.Document, chunkCfg chunker.Config) error {
	chunks := chunker.New(chunkCfg).Chunk(doc.Content)
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("ragscratchpad: embed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range chunks {
		id, err := s.index.Store(vecs[i].Vector)
		if err != nil {
			return fmt.Errorf("ragscratchpad: store: %w", err)
		}
		sc := ScratchpadChunk{DocumentID: doc.ID, DocumentTitle: doc.Title, Text: c.Text}
		if int(id) == len(s.chunks) {
			s.chunks = append(s.chunks, sc)
		} else if int(id) < len(s.chunks) {
			s.chunks[id] = sc
		} else {
			// Defensive padding: an Index implementation that assigns
			// sparse ids would otherwise desync the parallel slice. The
			// in-memory index never does this, but the contract doesn't
			// guarantee it.
			for len(s.chunks) < int(id) {
				s.chunks = append(s.chunks, ScratchpadChunk{})
			}
			s.chunks = append(s.chunks, sc)
		}
	}
	return nil
}

// Query returns the top-k chunks most similar to query (§4.12: excerpt
// retrieval for ActionPicker's per-round presentation).
func (s *RagScratchpad) Query(ctx context.Context, query string, k int) ([]ScratchpadChunk, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ragscratchpad: embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, err := s.index.GetClosest(vec.Vector, k)
	if err != nil {
		return nil, fmt.Errorf("ragscratchpad: query: %w", err)
	}
	out := make([]ScratchpadChunk, 0, len(ids))
	for _, id := range ids {
		if int(id) < len(s.chunks) {
			out = append(out, s.chunks[id])
		}
	}
	return out, nil
}

// Len reports how many chunks the scratchpad holds, for tests and
// diagnostics.
func (s *RagScratchpad) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// BuildExpert constructs one Expert: recovers survey documents for its
// domain description via KnowledgeRecoverer.GetSurveyDocs, ingests them
// into a fresh RagScratchpad (§4.12: "initialized from survey documents
// per expert"), and returns the ready Expert.
func BuildExpert(ctx context.Context, id, name, description string, recov KnowledgeRecoverer, emb embedder.Embedder, chunkCfg chunker.Config, surveyK int) (*Expert, error) {
	pad := NewRagScratchpad(emb)
	docs, err := recov.GetSurveyDocs(ctx, description, surveyK)
	if err != nil {
		return nil, fmt.Errorf("buildexpert %s: %w", name, err)
	}
	for _, d := range docs {
		if err := pad.Ingest(ctx, d, chunkCfg); err != nil {
			return nil, fmt.Errorf("buildexpert %s: ingest %s: %w", name, d.ID, err)
		}
	}
	return &Expert{ID: id, Name: name, Description: description, Scratchpad: pad}, nil
}
