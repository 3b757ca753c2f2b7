package expertset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kg"
	"github.com/sotatable/sota/sotatable"
)

// PaperAdderConfig tunes the AddDocument action (§4.10).
type PaperAdderConfig struct {
	// RecoverK bounds how many documents the round's single RecoverDocs
	// call (on the synthesized search description) returns. Default 3.
	RecoverK int
	// ChunkTokens sizes the per-document chunks handed to feature
	// extraction, independent of GraphBuild's chunking (§4.1, §4.10: "~500
	// tokens" for feature extraction rather than the 3000-token graph
	// extraction batches).
	ChunkTokens int
	// NewFeaturesProposedPerChunk caps how many candidate new columns one
	// chunk's extraction call may propose. Default 3.
	NewFeaturesProposedPerChunk int
	// NewFeaturesKeptAfterDedup caps how many of the round's deduplicated
	// proposed columns are actually committed. Default 7, grounded on
	// original_source/expert_set/paper_adder.py's feature-consolidation
	// prompt asking for "truly novel" names, capped at roughly seven.
	NewFeaturesKeptAfterDedup int
	// Concurrency bounds the per-chunk extraction worker pool, matching
	// graphbuild.Config.Concurrency's idiom. Default 10.
	Concurrency int
}

// DefaultPaperAdderConfig returns the defaults documented on
// PaperAdderConfig's fields.
func DefaultPaperAdderConfig() PaperAdderConfig {
	return PaperAdderConfig{RecoverK: 3, ChunkTokens: 500, NewFeaturesProposedPerChunk: 3, NewFeaturesKeptAfterDedup: 7, Concurrency: 10}
}

// PaperAdder implements the AddDocument action (§4.10): each expert
// proposes a search query from the topic and its domain, the queries are
// synthesized into one description, candidate documents are recovered
// through one KnowledgeRecoverer call on it, then it chunks each new
// document, extract values for the existing SOTA columns plus candidate
// new columns from every chunk in parallel, consolidate per document,
// and commit new rows/columns to the table.
type PaperAdder struct {
	model jsonmodel.Client
	recov KnowledgeRecoverer
	cfg   PaperAdderConfig
}

// NewPaperAdder returns a PaperAdder.
func NewPaperAdder(model jsonmodel.Client, recov KnowledgeRecoverer, cfg PaperAdderConfig) *PaperAdder {
	if cfg.RecoverK <= 0 {
		cfg.RecoverK = 3
	}
	if cfg.ChunkTokens <= 0 {
		cfg.ChunkTokens = 500
	}
	if cfg.NewFeaturesProposedPerChunk <= 0 {
		cfg.NewFeaturesProposedPerChunk = 3
	}
	if cfg.NewFeaturesKeptAfterDedup <= 0 {
		cfg.NewFeaturesKeptAfterDedup = 7
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &PaperAdder{model: model, recov: recov, cfg: cfg}
}

type searchQuery struct {
	Reasoning string `json:"reasoning"`
	Query     string `json:"query"`
}

type searchQueries struct {
	Queries map[string]searchQuery `json:"queries"`
}

var searchQuerySchema = jsonmodel.NewSchema("search_queries",
	jsonmodel.Field{
		Name: "queries",
		Type: jsonmodel.FieldObject,
		Description: "one object per expert id (\"expert_0\", \"expert_1\", ...) each shaped " +
			"{\"reasoning\": string, \"query\": a short search query for a paper relevant to this expert's " +
			"domain and the current topic}",
	},
)

type newFeatureProposal struct {
	NewFeatures []string `json:"new_features"`
}

var newFeatureSchema = jsonmodel.NewSchema("new_feature_proposal",
	jsonmodel.Field{Name: "new_features", Type: jsonmodel.FieldStringArray, Description: "candidate new comparison-table column names this excerpt suggests, lowercase, short"},
)

type searchQuerySynthesis struct {
	Reasoning   string `json:"reasoning"`
	Description string `json:"description"`
}

var searchQuerySynthesisSchema = jsonmodel.NewSchema("search_query_synthesis",
	jsonmodel.Field{Name: "reasoning", Type: jsonmodel.FieldString, Description: "how the per-expert queries were combined"},
	jsonmodel.Field{Name: "description", Type: jsonmodel.FieldString, Description: "a single research-target description synthesizing every expert's search query into one retrieval request"},
)

type valueConsolidation struct {
	Value string `json:"value"`
}

var valueConsolidationSchema = jsonmodel.NewSchema("value_consolidation",
	jsonmodel.Field{Name: "value", Type: jsonmodel.FieldString, Description: "a single consolidated value merging the candidate values into one"},
)

type featureDedup struct {
	NewFeatures []string `json:"new_features"`
}

var featureDedupSchema = jsonmodel.NewSchema("feature_dedup",
	jsonmodel.Field{Name: "new_features", Type: jsonmodel.FieldStringArray, Description: "up to seven truly novel comparison-table column names, deduplicated/merged across the candidate proposals and distinct from the existing columns"},
)

// PaperAdderResult is the outcome of one AddDocument round.
type PaperAdderResult struct {
	AddedDocumentIDs []string
	NewColumns       []string
	Reasoning        map[string]string // expert id -> search reasoning
}

// Add runs one AddDocument round over table and applies its outcome
// in-place (§4.10 steps 1-6).
func (p *PaperAdder) Add(ctx context.Context, description string, thoughts []string, table *sotatable.Table, experts []*Expert) (PaperAdderResult, error) {
	byID := indexExperts(experts)
	prompt := p.buildQueryPrompt(description, thoughts, byID)

	var resp searchQueries
	if err := p.model.GenerateJSON(ctx, prompt, searchQuerySchema, &resp); err != nil {
		return PaperAdderResult{}, fmt.Errorf("paperadder: search query generation: %w", err)
	}

	reasoning := make(map[string]string, len(resp.Queries))
	existing := make(map[string]bool, len(table.Rows))
	for _, r := range table.Rows {
		existing[r.Document.ID] = true
	}

	docs := p.recoverCandidates(ctx, resp, byID, reasoning, existing)
	if len(docs) == 0 {
		return PaperAdderResult{Reasoning: reasoning}, nil
	}

	extracted, newCols := p.extractAll(ctx, docs, table.Features)

	var added []string
	for _, doc := range docs {
		ex, ok := extracted[doc.ID]
		if !ok {
			continue
		}
		table.AddRow(doc, ex)
		added = append(added, doc.ID)
	}
	for _, c := range newCols {
		table.AddFeatureColumn(c)
	}

	return PaperAdderResult{AddedDocumentIDs: added, NewColumns: newCols, Reasoning: reasoning}, nil
}

// recoverCandidates synthesizes every expert's search query into a single
// research-target description via one model call, then issues exactly one
// KnowledgeRecoverer.RecoverDocs call against it, returning the documents
// not already on the table (§4.10 step 2, grounded on
// original_source/expert_set/paper_adder.py's
// build_search_query_synthesis_prompt followed by a single recover_docs
// call).
func (p *PaperAdder) recoverCandidates(ctx context.Context, resp searchQueries, byID map[string]*Expert, reasoning map[string]string, existing map[string]bool) []kg.Document {
	ids := make([]string, 0, len(resp.Queries))
	for id := range resp.Queries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		reasoning[id] = resp.Queries[id].Reasoning
	}

	description := p.synthesizeSearchQuery(ctx, ids, resp.Queries, byID)
	if description == "" {
		return nil
	}

	found, err := p.recov.RecoverDocs(ctx, description, p.cfg.RecoverK)
	if err != nil {
		slog.Warn("paperadder: recover failed", "description", description, "error", err)
		return nil
	}

	seen := make(map[string]bool, len(found))
	docs := make([]kg.Document, 0, len(found))
	for _, d := range found {
		if existing[d.ID] || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		docs = append(docs, d)
	}
	return docs
}

// synthesizeSearchQuery asks the model to combine every expert's
// individual search query into one research-target description suitable
// for a single recover_docs call (§4.10 step 2). A failed or degraded
// call yields "", which recoverCandidates treats as no documents to
// recover this round.
func (p *PaperAdder) synthesizeSearchQuery(ctx context.Context, ids []string, queries map[string]searchQuery, byID map[string]*Expert) string {
	var b strings.Builder
	b.WriteString("Each expert proposed a search query for a paper to add to the comparison table:\n")
	for _, id := range ids {
		q := queries[id]
		if strings.TrimSpace(q.Query) == "" {
			continue
		}
		name := id
		if e, ok := byID[id]; ok {
			name = e.Name
		}
		fmt.Fprintf(&b, "- (%s) %s — %s\n", name, q.Query, q.Reasoning)
	}
	b.WriteString("\nCombine these into a single research-target description for one retrieval request that would " +
		"surface papers satisfying as many of these queries as possible.\n")

	var resp searchQuerySynthesis
	if err := p.model.GenerateJSON(ctx, b.String(), searchQuerySynthesisSchema, &resp); err != nil {
		slog.Warn("paperadder: search query synthesis failed", "error", err)
		return ""
	}
	return strings.TrimSpace(resp.Description)
}

// perDocExtraction accumulates one document's feature values and
// proposed new columns across all of its chunks before consolidation.
type perDocExtraction struct {
	mu        sync.Mutex
	values    map[string][]string // column -> values seen across chunks
	proposals []string
}

// extractAll chunks every candidate document (~ChunkTokens per chunk),
// extracts existing-column values and new-column proposals from every
// chunk in parallel, then consolidates per document and dedupes the
// round's new-column proposals (§4.10 steps 3-5).
func (p *PaperAdder) extractAll(ctx context.Context, docs []kg.Document, existingColumns []string) (map[string]sotatable.PaperFeatures, []string) {
	ch := chunker.New(chunker.Config{MaxTokens: p.cfg.ChunkTokens, OverlapTokens: 0})

	perDoc := make(map[string]*perDocExtraction, len(docs))
	for _, d := range docs {
		perDoc[d.ID] = &perDocExtraction{values: make(map[string][]string)}
	}

	existingSchema := jsonmodel.NewDynamicStringSchema("existing_feature_values", existingColumns)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, doc := range docs {
		doc := doc
		acc := perDoc[doc.ID]
		for _, c := range ch.Chunk(doc.Content) {
			c := c
			g.Go(func() error {
				if len(existingColumns) > 0 {
					values := p.extractExistingValues(gctx, doc, c.Text, existingSchema, existingColumns)
					acc.mu.Lock()
					for col, v := range values {
						if v != "" && v != sotatable.NotAvailable {
							acc.values[col] = append(acc.values[col], v)
						}
					}
					acc.mu.Unlock()
				}

				proposed := p.extractNewFeatureProposals(gctx, doc, c.Text)
				if len(proposed) > 0 {
					acc.mu.Lock()
					acc.proposals = append(acc.proposals, proposed...)
					acc.mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	allProposals := make([]string, 0)
	for _, acc := range perDoc {
		allProposals = append(allProposals, acc.proposals...)
	}
	newCols := p.dedupAndCapFeatures(ctx, allProposals, existingColumns)

	newColSchema := jsonmodel.NewDynamicStringSchema("new_feature_values", newCols)
	result := make(map[string]sotatable.PaperFeatures, len(docs))
	for _, doc := range docs {
		acc := perDoc[doc.ID]
		features := make(map[string]string, len(existingColumns)+len(newCols))
		for _, col := range existingColumns {
			features[col] = p.consolidateValue(ctx, doc, col, acc.values[col])
		}
		if len(newCols) > 0 {
			for col, v := range p.extractNewColumnValues(ctx, doc, newColSchema, newCols) {
				features[col] = v
			}
		}
		result[doc.ID] = sotatable.PaperFeatures{
			Authors: doc.Authors,
			Title:   doc.Title,
			Features: features,
		}
	}
	return result, newCols
}

func (p *PaperAdder) extractExistingValues(ctx context.Context, doc kg.Document, chunkText string, schema jsonmodel.Schema, columns []string) map[string]string {
	prompt := fmt.Sprintf("Paper %q. From the excerpt below, extract a short value for each of these comparison columns: %s. "+
		"Use %q if the excerpt doesn't support a value for a column.\n\nEXCERPT:\n%s",
		doc.Title, strings.Join(columns, ", "), sotatable.NotAvailable, chunkText)

	out := make(map[string]any)
	if err := p.model.GenerateJSON(ctx, prompt, schema, &out); err != nil {
		slog.Warn("paperadder: existing-feature extraction failed", "document", doc.ID, "error", err)
		return nil
	}
	values := make(map[string]string, len(out))
	for k, v := range out {
		if s, ok := v.(string); ok {
			values[k] = s
		}
	}
	return values
}

func (p *PaperAdder) extractNewColumnValues(ctx context.Context, doc kg.Document, schema jsonmodel.Schema, columns []string) map[string]string {
	prompt := fmt.Sprintf("Paper %q. From its content, extract a short value for each of these newly proposed comparison columns: %s. "+
		"Use %q if the paper's content doesn't support a value.\n\nCONTENT:\n%s",
		doc.Title, strings.Join(columns, ", "), sotatable.NotAvailable, doc.Content)

	out := make(map[string]any)
	if err := p.model.GenerateJSON(ctx, prompt, schema, &out); err != nil {
		slog.Warn("paperadder: new-column extraction failed", "document", doc.ID, "error", err)
		return nil
	}
	values := make(map[string]string, len(out))
	for k, v := range out {
		if s, ok := v.(string); ok {
			values[k] = s
		}
	}
	return values
}

func (p *PaperAdder) extractNewFeatureProposals(ctx context.Context, doc kg.Document, chunkText string) []string {
	prompt := fmt.Sprintf("Paper %q. Propose up to %d new comparison-table columns (besides authors/title/year/domain) "+
		"this excerpt suggests would be useful for comparing papers on this topic.\n\nEXCERPT:\n%s",
		doc.Title, p.cfg.NewFeaturesProposedPerChunk, chunkText)

	var out newFeatureProposal
	if err := p.model.GenerateJSON(ctx, prompt, newFeatureSchema, &out); err != nil {
		slog.Warn("paperadder: new-feature proposal failed", "document", doc.ID, "error", err)
		return nil
	}
	if len(out.NewFeatures) > p.cfg.NewFeaturesProposedPerChunk {
		out.NewFeatures = out.NewFeatures[:p.cfg.NewFeaturesProposedPerChunk]
	}
	return out.NewFeatures
}

// consolidateValue resolves a document's per-chunk candidate values for
// one column into a single value (§4.10 step 3). With zero candidates the
// column is NotAvailable; with exactly one candidate no model call is
// needed; with more than one, the model is asked to merge them into a
// single consolidated string, grounded on
// original_source/expert_set/paper_adder.py's
// build_feature_consolidation_prompt. A failed or degraded call falls
// back to the first candidate.
func (p *PaperAdder) consolidateValue(ctx context.Context, doc kg.Document, column string, values []string) string {
	distinct := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || v == sotatable.NotAvailable || seen[v] {
			continue
		}
		seen[v] = true
		distinct = append(distinct, v)
	}
	if len(distinct) == 0 {
		return sotatable.NotAvailable
	}
	if len(distinct) == 1 {
		return distinct[0]
	}

	prompt := fmt.Sprintf("Paper %q. The column %q was independently extracted with these candidate values from "+
		"different excerpts of the same paper:\n- %s\n\nMerge them into a single consolidated value for this column.",
		doc.Title, column, strings.Join(distinct, "\n- "))

	var resp valueConsolidation
	if err := p.model.GenerateJSON(ctx, prompt, valueConsolidationSchema, &resp); err != nil {
		slog.Warn("paperadder: value consolidation failed", "document", doc.ID, "column", column, "error", err)
		return distinct[0]
	}
	consolidated := strings.TrimSpace(resp.Value)
	if consolidated == "" {
		return distinct[0]
	}
	return consolidated
}

// dedupAndCapFeatures asks the model to deduplicate/merge the round's
// candidate new-column proposals against each other and against the
// table's current columns, returning up to NewFeaturesKeptAfterDedup
// (~7) truly novel names (§4.10 step 3, grounded on
// original_source/expert_set/paper_adder.py's feature-consolidation
// prompt). A failed or degraded call proposes no new columns this round.
func (p *PaperAdder) dedupAndCapFeatures(ctx context.Context, proposals []string, existingColumns []string) []string {
	distinct := make([]string, 0, len(proposals))
	seen := make(map[string]bool, len(proposals))
	for _, raw := range proposals {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		distinct = append(distinct, name)
	}
	if len(distinct) == 0 {
		return nil
	}
	sort.Strings(distinct)

	var b strings.Builder
	fmt.Fprintf(&b, "Candidate new comparison-table columns proposed across this round's papers:\n- %s\n\n", strings.Join(distinct, "\n- "))
	if len(existingColumns) > 0 {
		fmt.Fprintf(&b, "Columns already on the table:\n- %s\n\n", strings.Join(existingColumns, "\n- "))
	}
	fmt.Fprintf(&b, "Deduplicate and merge the candidates against each other and against the existing columns, "+
		"and return up to %d truly novel column names worth adding.\n", p.cfg.NewFeaturesKeptAfterDedup)

	var resp featureDedup
	if err := p.model.GenerateJSON(ctx, b.String(), featureDedupSchema, &resp); err != nil {
		slog.Warn("paperadder: feature dedup failed", "error", err)
		return nil
	}
	if len(resp.NewFeatures) > p.cfg.NewFeaturesKeptAfterDedup {
		resp.NewFeatures = resp.NewFeatures[:p.cfg.NewFeaturesKeptAfterDedup]
	}
	return resp.NewFeatures
}

func (p *PaperAdder) buildQueryPrompt(description string, thoughts []string, byID map[string]*Expert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", description)
	if len(thoughts) > 0 {
		b.WriteString("Deliberation history:\n")
		for _, t := range thoughts {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	b.WriteString("Experts:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s\n", id, byID[id].Description)
	}
	b.WriteString("\nEach expert must propose one short search query for a paper that would strengthen the comparison table from their domain's perspective.\n")
	return b.String()
}
