// Package graphbuild implements GraphBuilder (§4.4): the four-phase
// pipeline that turns a corpus into a knowledge graph — chunking,
// extraction & merge, community detection and community summarization
// — grounded on the teacher's graph.Builder extraction pipeline and
// graph.DetectCommunities/SummarizeCommunities, generalized from
// technical-standard entities to the academic-paper entity set in
// kg.EntityType and from a SQL store to the in-memory kg.Graph.
package graphbuild

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/embedder"
	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kg"
)

// Config tunes a Builder.
type Config struct {
	// Concurrency bounds the worker pool used for per-document chunking,
	// per-batch extraction and per-community summarization. Default 10
	// (§5: "bounded worker pools (≈10)").
	Concurrency int

	// MinCommunitySize is the minimum member count for an emitted
	// Community. Default 3.
	MinCommunitySize int

	// MaxCommunityLevel caps the Louvain recursion depth. Default 5.
	MaxCommunityLevel int

	// BatchMaxTokens bounds how many consecutive TextUnits are
	// concatenated into one extraction call. Default 3000.
	BatchMaxTokens int
}

// DefaultConfig returns the pipeline defaults from §4.4/§5.
func DefaultConfig() Config {
	return Config{Concurrency: 10, MinCommunitySize: 3, MaxCommunityLevel: 5, BatchMaxTokens: 3000}
}

// Builder owns the chunker, embedder and model client used to grow a
// kg.Graph from Documents. A single Builder must not be shared between
// concurrent Build calls against the same Graph (§5: "the KnowledgeGraph
// is writable only by the owning builder").
type Builder struct {
	graph    *kg.Graph
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	model    jsonmodel.Client
	cfg      Config
}

// New returns a Builder over graph. Zero-value Config fields fall back
// to DefaultConfig.
func New(graph *kg.Graph, ch *chunker.Chunker, emb embedder.Embedder, model jsonmodel.Client, cfg Config) *Builder {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MinCommunitySize <= 0 {
		cfg.MinCommunitySize = 3
	}
	if cfg.MaxCommunityLevel <= 0 {
		cfg.MaxCommunityLevel = 5
	}
	if cfg.BatchMaxTokens <= 0 {
		cfg.BatchMaxTokens = 3000
	}
	return &Builder{graph: graph, chunker: ch, embedder: emb, model: model, cfg: cfg}
}

// Build runs all four phases over docs: a full build of a fresh corpus.
func (b *Builder) Build(ctx context.Context, docs []kg.Document) error {
	for _, d := range docs {
		b.graph.AddDocument(d)
	}
	if err := b.chunkAndEmbed(ctx, docs); err != nil {
		return fmt.Errorf("graphbuild: phase 1 chunking: %w", err)
	}
	if err := b.extractAndMerge(ctx, docs); err != nil {
		return fmt.Errorf("graphbuild: phase 2 extraction: %w", err)
	}
	b.detectAndSummarize(ctx)
	return nil
}

// UpdateKnowledgeGraph performs the incremental-update path (§4.4):
// Phases 1-2 run only over newDocs, then all Communities/Reports are
// dropped and Phases 3-4 re-run over the full, merged graph so the end
// state is indistinguishable from a full rebuild over the union corpus.
func (b *Builder) UpdateKnowledgeGraph(ctx context.Context, newDocs []kg.Document) error {
	for _, d := range newDocs {
		b.graph.AddDocument(d)
	}
	if err := b.chunkAndEmbed(ctx, newDocs); err != nil {
		return fmt.Errorf("graphbuild: incremental phase 1: %w", err)
	}
	if err := b.extractAndMerge(ctx, newDocs); err != nil {
		return fmt.Errorf("graphbuild: incremental phase 2: %w", err)
	}
	b.graph.ClearCommunities()
	b.detectAndSummarize(ctx)
	return nil
}

// chunkAndEmbed is Phase 1: produce TextUnits (one embedding per chunk)
// in parallel over documents, bounded by cfg.Concurrency.
func (b *Builder) chunkAndEmbed(ctx context.Context, docs []kg.Document) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			chunks := b.chunker.Chunk(doc.Content)
			for _, c := range chunks {
				vec, err := b.embedder.Embed(gctx, c.Text)
				if err != nil {
					// A single unit's embedding failure is swallowed; the
					// unit is still inserted with a nil embedding and is
					// simply invisible to similarity-ranked retrieval.
					slog.Warn("graphbuild: embedding failed, inserting unit without a vector",
						"document", doc.ID, "position", c.Position, "error", err)
				}
				b.graph.AddTextUnit(kg.TextUnit{
					DocumentID: doc.ID,
					UnitID:     fmt.Sprintf("%s_%d", doc.ID, c.Position),
					Text:       c.Text,
					Position:   c.Position,
					NumTokens:  c.NumTokens,
					Embedding:  vec.Vector,
				})
			}
			return nil
		})
	}
	return g.Wait()
}

// extractedEntity and extractedRelationship are the shapes of a single
// extraction call's JSON response (§4.4 Phase 2).
type extractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type extractedRelationship struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Description string `json:"description"`
}

type extraction struct {
	Entities      []extractedEntity       `json:"entities"`
	Relationships []extractedRelationship `json:"relationships"`
}

var extractionSchema = jsonmodel.NewSchema("extraction",
	jsonmodel.Field{Name: "entities", Type: jsonmodel.FieldObjectArray, Description: "array of {name, type, description}; type is one of Person, Organization, Location, Event, Concept, Date, Time, Other"},
	jsonmodel.Field{Name: "relationships", Type: jsonmodel.FieldObjectArray, Description: "array of {source, target, description}; source and target must be entity names from the entities array"},
)

const extractionPrompt = `Extract entities and relationships from the following excerpt of an academic paper.
Entity names must be lowercased. Only extract what the text clearly supports.

TEXT:
%s`

type unitBatch struct {
	docID string
	units []kg.TextUnit
}

// batchTextUnits groups consecutive TextUnits of one document so their
// combined token count stays under maxTokens - epsilon (§4.4 Phase 2).
func batchTextUnits(units []kg.TextUnit, maxTokens int) []unitBatch {
	const epsilon = 100
	limit := maxTokens - epsilon
	if limit <= 0 {
		limit = maxTokens
	}
	var batches []unitBatch
	var cur []kg.TextUnit
	sum := 0
	for _, u := range units {
		if len(cur) > 0 && sum+u.NumTokens > limit {
			batches = append(batches, unitBatch{docID: u.DocumentID, units: cur})
			cur = nil
			sum = 0
		}
		cur = append(cur, u)
		sum += u.NumTokens
	}
	if len(cur) > 0 {
		batches = append(batches, unitBatch{docID: cur[0].DocumentID, units: cur})
	}
	return batches
}

// extractAndMerge is Phase 2: extract (entities, relationships) per
// batch of TextUnits, then merge by key across the whole set of newly
// processed documents.
func (b *Builder) extractAndMerge(ctx context.Context, docs []kg.Document) error {
	var batches []unitBatch
	for _, doc := range docs {
		units := b.graph.TextUnitsForDocument(doc.ID)
		batches = append(batches, batchTextUnits(units, b.cfg.BatchMaxTokens)...)
	}
	if len(batches) == 0 {
		return nil
	}

	var (
		mu             sync.Mutex
		entityDescs    = make(map[string][]string)
		entityType     = make(map[string]string)
		relDescs       = make(map[relKey][]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			text := joinUnitText(batch.units)
			var result extraction
			if err := b.model.GenerateJSON(gctx, fmt.Sprintf(extractionPrompt, text), extractionSchema, &result); err != nil {
				// (∅, ∅) for this batch; swallowed per §4.4 failure semantics.
				slog.Warn("graphbuild: extraction failed, yielding empty result", "error", err)
				return nil
			}

			names := make([]string, 0, len(result.Entities))
			mu.Lock()
			for _, e := range result.Entities {
				name := strings.ToLower(strings.TrimSpace(e.Name))
				if name == "" {
					continue
				}
				names = append(names, name)
				if e.Description != "" {
					entityDescs[name] = append(entityDescs[name], e.Description)
				}
				if _, ok := entityType[name]; !ok && e.Type != "" {
					entityType[name] = e.Type
				}
			}
			for _, r := range result.Relationships {
				src := strings.ToLower(strings.TrimSpace(r.Source))
				tgt := strings.ToLower(strings.TrimSpace(r.Target))
				if src == "" || tgt == "" {
					continue
				}
				key := relKey{src, tgt}
				if r.Description != "" {
					relDescs[key] = append(relDescs[key], r.Description)
				} else if _, ok := relDescs[key]; !ok {
					relDescs[key] = []string{}
				}
			}
			mu.Unlock()

			for _, u := range batch.units {
				b.graph.RecordProvenance(u.UnitID, names)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for name, descs := range entityDescs {
		b.graph.AddEntity(kg.Entity{
			Name:        name,
			Type:        entityTypeFromString(entityType[name]),
			Description: b.mergeText(ctx, name, descs),
		})
	}
	// Entities mentioned only as relationship endpoints, never extracted
	// directly, still need a placeholder (§7 invariant-violation repair).
	for key := range relDescs {
		b.graph.EnsurePlaceholderEntity(key.source)
		b.graph.EnsurePlaceholderEntity(key.target)
	}
	for key, descs := range relDescs {
		b.graph.AddRelationship(kg.Relationship{
			Source:      key.source,
			Target:      key.target,
			Description: b.mergeText(ctx, key.source+"->"+key.target, descs),
		})
	}
	return nil
}

type relKey struct{ source, target string }

func joinUnitText(units []kg.TextUnit) string {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = u.Text
	}
	return strings.Join(parts, "\n\n")
}

func entityTypeFromString(s string) kg.EntityType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "person":
		return kg.EntityPerson
	case "organization":
		return kg.EntityOrganization
	case "location":
		return kg.EntityLocation
	case "event":
		return kg.EntityEvent
	case "concept":
		return kg.EntityConcept
	case "date":
		return kg.EntityDate
	case "time":
		return kg.EntityTime
	default:
		return kg.EntityOther
	}
}

var summarySchema = jsonmodel.NewSchema("merge_summary",
	jsonmodel.Field{Name: "summary", Type: jsonmodel.FieldString, Description: "one concise paragraph merging the given descriptions"},
)

const maxDeterministicJoinRunes = 500

// mergeText collapses multiple descriptions of the same name into one,
// via the model when it produces a usable summary and via a
// deterministic join-with-truncation otherwise (§4.4 Phase 2).
func (b *Builder) mergeText(ctx context.Context, subject string, descs []string) string {
	unique := dedupStrings(descs)
	if len(unique) == 0 {
		return ""
	}
	if len(unique) == 1 {
		return unique[0]
	}

	prompt := fmt.Sprintf("Merge the following descriptions of %q into one concise paragraph:\n- %s",
		subject, strings.Join(unique, "\n- "))
	var out struct {
		Summary string `json:"summary"`
	}
	if err := b.model.GenerateJSON(ctx, prompt, summarySchema, &out); err == nil && strings.TrimSpace(out.Summary) != "" {
		return strings.TrimSpace(out.Summary)
	}
	return deterministicJoin(unique, maxDeterministicJoinRunes)
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func deterministicJoin(parts []string, maxRunes int) string {
	joined := strings.Join(parts, "; ")
	r := []rune(joined)
	if len(r) <= maxRunes {
		return joined
	}
	return string(r[:maxRunes]) + "..."
}

// detectAndSummarize runs Phases 3 and 4 over the whole graph.
func (b *Builder) detectAndSummarize(ctx context.Context) {
	communities := detectCommunities(b.graph, b.cfg.MinCommunitySize, b.cfg.MaxCommunityLevel)
	for _, c := range communities {
		b.graph.AddCommunity(c)
	}
	b.summarizeCommunities(ctx, communities)
}

var reportSchema = jsonmodel.NewSchema("community_report",
	jsonmodel.Field{Name: "summary", Type: jsonmodel.FieldString, Description: "2-3 sentence summary of what connects these entities"},
	jsonmodel.Field{Name: "key_entities", Type: jsonmodel.FieldStringArray, Description: "the most salient entity names"},
	jsonmodel.Field{Name: "key_relationships", Type: jsonmodel.FieldStringArray, Description: "the most salient relationship descriptions"},
)

// summarizeCommunities is Phase 4: parallel, model-driven community
// reports with a deterministic concatenation fallback.
func (b *Builder) summarizeCommunities(ctx context.Context, communities []kg.Community) {
	sem := semaphore.NewWeighted(int64(b.cfg.Concurrency))
	var wg sync.WaitGroup

	entitiesByName := make(map[string]kg.Entity)
	for _, e := range b.graph.Entities() {
		entitiesByName[e.Name] = e
	}
	relsByEndpoint := make(map[string][]kg.Relationship)
	for _, r := range b.graph.Relationships() {
		relsByEndpoint[r.Source] = append(relsByEndpoint[r.Source], r)
	}

	for i := range communities {
		c := &communities[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		wg.Add(1)
		go func(c *kg.Community) {
			defer wg.Done()
			defer sem.Release(1)
			report := b.buildCommunityReport(ctx, c, entitiesByName, relsByEndpoint)
			if report != nil {
				b.graph.AddCommunityReport(c.ID, *report)
			}
		}(c)
	}
	wg.Wait()
}

func (b *Builder) buildCommunityReport(ctx context.Context, c *kg.Community, entitiesByName map[string]kg.Entity, relsByEndpoint map[string][]kg.Relationship) *kg.CommunityReport {
	var descLines []string
	var names []string
	var relLines []string
	for _, m := range c.Members {
		names = append(names, m.Name)
		if e, ok := entitiesByName[m.Name]; ok && e.Description != "" {
			descLines = append(descLines, fmt.Sprintf("- %s (%s): %s", e.Name, e.Type, e.Description))
		} else {
			descLines = append(descLines, fmt.Sprintf("- %s (%s)", m.Name, m.Type))
		}
		for _, r := range relsByEndpoint[m.Name] {
			relLines = append(relLines, fmt.Sprintf("%s -> %s: %s", r.Source, r.Target, r.Description))
		}
	}
	if len(descLines) == 0 {
		return nil
	}

	prompt := fmt.Sprintf("Summarize this cluster of related entities from an academic-paper knowledge graph in 2-3 sentences.\n\nEntities:\n%s\n\nRelationships:\n%s",
		strings.Join(descLines, "\n"), strings.Join(relLines, "\n"))

	var out struct {
		Summary          string   `json:"summary"`
		KeyEntities      []string `json:"key_entities"`
		KeyRelationships []string `json:"key_relationships"`
	}
	if err := b.model.GenerateJSON(ctx, prompt, reportSchema, &out); err == nil && strings.TrimSpace(out.Summary) != "" {
		return &kg.CommunityReport{Summary: out.Summary, KeyEntities: out.KeyEntities, KeyRelationships: out.KeyRelationships}
	}

	sort.Strings(names)
	return &kg.CommunityReport{
		Summary:     deterministicJoin(descLines, maxDeterministicJoinRunes),
		KeyEntities: names,
	}
}
