package expertset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/sotatable"
)

// DocumentRemoverConfig tunes how many documents one round may remove.
type DocumentRemoverConfig struct {
	// MaxToRemove caps both how many indices a single expert may propose
	// and how many distinct documents the round ultimately removes.
	// Default 2, grounded on original_source/expert_set/
	// document_remover.py's DOCUMENTS_TO_REMOVE.
	MaxToRemove int
}

// DefaultDocumentRemoverConfig matches the original's constant.
func DefaultDocumentRemoverConfig() DocumentRemoverConfig {
	return DocumentRemoverConfig{MaxToRemove: 2}
}

// DocumentRemover implements the RemoveDocument action (§4.8): every
// expert votes, by row index, for documents to drop from the table; the
// most-voted indices (up to MaxToRemove) are removed, and the table's
// orphaned feature columns are garbage-collected as part of
// Table.RemoveByDocumentID.
type DocumentRemover struct {
	model jsonmodel.Client
	cfg   DocumentRemoverConfig
}

// NewDocumentRemover returns a DocumentRemover.
func NewDocumentRemover(model jsonmodel.Client, cfg DocumentRemoverConfig) *DocumentRemover {
	if cfg.MaxToRemove <= 0 {
		cfg.MaxToRemove = 2
	}
	return &DocumentRemover{model: model, cfg: cfg}
}

type documentRemovalVote struct {
	Reasoning         string `json:"reasoning"`
	DocumentsToDelete []int  `json:"documents_to_delete"`
}

type documentRemovalVotes struct {
	Votes map[string]documentRemovalVote `json:"votes"`
}

var documentRemovalSchema = jsonmodel.NewSchema("document_removal_votes",
	jsonmodel.Field{
		Name: "votes",
		Type: jsonmodel.FieldObject,
		Description: "one object per expert id (\"expert_0\", \"expert_1\", ...) each shaped " +
			"{\"reasoning\": string, \"documents_to_delete\": array of row Index values to remove, at most " +
			"a small handful}",
	},
)

// DocumentRemoverResult is the outcome of one removal round.
type DocumentRemoverResult struct {
	RemovedDocumentIDs []string
	Summary            string
	Reasoning          map[string]string // expert id -> reasoning
}

type removalSummary struct {
	Summary string `json:"summary"`
}

var removalSummarySchema = jsonmodel.NewSchema("removal_summary",
	jsonmodel.Field{
		Name:        "summary",
		Type:        jsonmodel.FieldString,
		Description: "a short (1-3 sentence) narrative summary of which documents were removed this round and why, to be appended to the thought history future rounds are shown",
	},
)

// Remove runs one removal vote over table and applies the outcome
// in-place (§4.8 steps 1-5).
func (r *DocumentRemover) Remove(ctx context.Context, description string, thoughts []string, table *sotatable.Table, experts []*Expert) (DocumentRemoverResult, error) {
	indexedMarkdown, mapping := table.IndexedMarkdown()
	byID := indexExperts(experts)

	prompt := r.buildPrompt(description, thoughts, indexedMarkdown, byID)

	var resp documentRemovalVotes
	if err := r.model.GenerateJSON(ctx, prompt, documentRemovalSchema, &resp); err != nil {
		return DocumentRemoverResult{}, fmt.Errorf("documentremover: generate: %w", err)
	}

	tally := make(map[int]int)
	reasoning := make(map[string]string, len(resp.Votes))
	for id := range byID {
		v, ok := resp.Votes[id]
		if !ok {
			continue
		}
		reasoning[id] = v.Reasoning
		seen := make(map[int]bool)
		count := 0
		for _, idx := range v.DocumentsToDelete {
			if count >= r.cfg.MaxToRemove {
				break
			}
			if _, ok := mapping[idx]; !ok || seen[idx] {
				continue
			}
			seen[idx] = true
			tally[idx]++
			count++
		}
	}

	chosen := mostCommonIndices(tally, r.cfg.MaxToRemove)
	ids := make(map[string]bool, len(chosen))
	for _, idx := range chosen {
		ids[mapping[idx]] = true
	}

	removed := table.RemoveByDocumentID(ids)
	slog.Info("documentremover: round complete", "removed", removed)
	summary := r.summarizeRound(ctx, description, removed, reasoning)
	return DocumentRemoverResult{RemovedDocumentIDs: removed, Summary: summary, Reasoning: reasoning}, nil
}

// summarizeRound asks the model for a short narrative of which
// documents were removed and why (§4.8 step 5).
func (r *DocumentRemover) summarizeRound(ctx context.Context, description string, removed []string, reasoning map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nRemoved document ids: %v\n\n", description, removed)
	b.WriteString("Per-expert reasoning:\n")
	ids := make([]string, 0, len(reasoning))
	for id := range reasoning {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s\n", id, reasoning[id])
	}
	b.WriteString("\nWrite a short summary of this round's removal decision for the deliberation history.\n")

	var resp removalSummary
	if err := r.model.GenerateJSON(ctx, b.String(), removalSummarySchema, &resp); err != nil {
		slog.Warn("documentremover: round summary generation failed", "error", err)
		return ""
	}
	return resp.Summary
}

// mostCommonIndices returns the up-to-limit indices with the highest
// vote counts (ties broken by ascending index, for determinism),
// dropping indices with zero votes.
func mostCommonIndices(tally map[int]int, limit int) []int {
	type kv struct {
		idx, count int
	}
	kvs := make([]kv, 0, len(tally))
	for idx, c := range tally {
		if c > 0 {
			kvs = append(kvs, kv{idx, c})
		}
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].idx < kvs[j].idx
	})
	if limit > len(kvs) {
		limit = len(kvs)
	}
	out := make([]int, limit)
	for i := 0; i < limit; i++ {
		out[i] = kvs[i].idx
	}
	return out
}

func (r *DocumentRemover) buildPrompt(description string, thoughts []string, indexedMarkdown string, byID map[string]*Expert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", description)
	if len(thoughts) > 0 {
		b.WriteString("Deliberation history:\n")
		for _, t := range thoughts {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current state-of-the-art table (Index column refers to the row index, not the document id):\n%s\n\n", indexedMarkdown)

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	b.WriteString("Experts:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s\n", id, byID[id].Description)
	}
	fmt.Fprintf(&b, "\nEach expert must propose at most %d row Index values to remove as no longer relevant to the topic, with reasoning. An expert who finds nothing to remove should propose an empty list.\n", r.cfg.MaxToRemove)
	return b.String()
}
