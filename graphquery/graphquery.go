// Package graphquery implements GraphQuery's DRIFT search (§4.5):
// a two-phase global-then-local retrieval pipeline over a built
// kg.Graph, plus the two similarity-ranking helpers used throughout the
// rest of the system (find_documents, get_relevant_text_units_distinct_docs).
// Grounded on the teacher's multi-round reasoning.Engine (the
// round-structured pipeline with per-round logging and graceful
// degradation) and retrieval.rrf (score-then-rank-then-truncate shape),
// generalized from a single-pass RAG answer to the community-then-unit
// DRIFT contract.
package graphquery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sotatable/sota/embedder"
	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kg"
)

// Config tunes an Engine.
type Config struct {
	// TopCommunities is the global phase's community fan-in ("c" in §4.5).
	TopCommunities int
	// TopUnits is the local phase's per-follow-up TextUnit fan-in ("N").
	TopUnits int
	// ConfidenceFloor stops the local phase early once a finding's
	// confidence drops below it. Default 0.3.
	ConfidenceFloor float64
}

// DefaultConfig returns DRIFT's default fan-in and stopping parameters.
func DefaultConfig() Config {
	return Config{TopCommunities: 5, TopUnits: 8, ConfidenceFloor: 0.3}
}

// Engine answers queries against a built graph.
type Engine struct {
	graph    *kg.Graph
	embedder embedder.Embedder
	model    jsonmodel.Client
	cfg      Config
}

// New returns an Engine over graph.
func New(graph *kg.Graph, emb embedder.Embedder, model jsonmodel.Client, cfg Config) *Engine {
	if cfg.TopCommunities <= 0 {
		cfg.TopCommunities = 5
	}
	if cfg.TopUnits <= 0 {
		cfg.TopUnits = 8
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.3
	}
	return &Engine{graph: graph, embedder: emb, model: model, cfg: cfg}
}

// GlobalAnswer is the global phase's output.
type GlobalAnswer struct {
	Answer      string   `json:"answer"`
	KeyInsights []string `json:"key_insights"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
}

// FollowUp is one follow-up question produced from the global answer.
type FollowUp struct {
	Question string  `json:"question"`
	Tag      string  `json:"tag"` // entity, relationship, temporal, causal
	Priority float64 `json:"priority"`
}

// LocalFinding is the local phase's per-follow-up output.
type LocalFinding struct {
	Answer         string   `json:"answer"`
	Evidence       []string `json:"evidence"`
	Confidence     float64  `json:"confidence"`
	EntityMentions []string `json:"entity_mentions"`
}

// Respond runs the full DRIFT pipeline and returns the synthesis text
// (§4.5: "the returned text is the concatenation of these fields").
func (e *Engine) Respond(ctx context.Context, query string) (string, error) {
	global := e.globalPhase(ctx, query)
	slog.Info("graphquery: global phase complete", "confidence", global.Confidence)

	followUps := e.followUpPhase(ctx, query, global)
	slog.Info("graphquery: follow-up phase complete", "count", len(followUps))

	findings := e.localPhase(ctx, followUps)
	slog.Info("graphquery: local phase complete", "findings", len(findings))

	return e.synthesize(ctx, query, global, followUps, findings), nil
}

var globalSchema = jsonmodel.NewSchema("global_answer",
	jsonmodel.Field{Name: "answer", Type: jsonmodel.FieldString, Description: "broad answer drawn from the community summaries"},
	jsonmodel.Field{Name: "key_insights", Type: jsonmodel.FieldStringArray, Description: "3-5 key insights"},
	jsonmodel.Field{Name: "confidence", Type: jsonmodel.FieldFloat, Description: "confidence in [0,1]"},
	jsonmodel.Field{Name: "reasoning", Type: jsonmodel.FieldString, Description: "brief reasoning trace"},
)

// globalPhase selects the top-c communities by relevance and asks the
// model for a broad answer (§4.5 step 1).
func (e *Engine) globalPhase(ctx context.Context, query string) GlobalAnswer {
	communities := e.graph.Communities(-1)
	ranked := rankCommunities(query, communities)
	if len(ranked) > e.cfg.TopCommunities {
		ranked = ranked[:e.cfg.TopCommunities]
	}

	var b strings.Builder
	for _, c := range ranked {
		if c.Report == nil {
			continue
		}
		fmt.Fprintf(&b, "Community %s: %s\n", c.ID, c.Report.Summary)
		if len(c.Report.KeyEntities) > 0 {
			fmt.Fprintf(&b, "  Key entities: %s\n", strings.Join(c.Report.KeyEntities, ", "))
		}
		if len(c.Report.KeyRelationships) > 0 {
			fmt.Fprintf(&b, "  Key relationships: %s\n", strings.Join(c.Report.KeyRelationships, "; "))
		}
	}

	prompt := fmt.Sprintf("Answer the following query using only the community summaries below.\n\nQuery: %s\n\nCommunities:\n%s", query, b.String())

	var out GlobalAnswer
	if err := e.model.GenerateJSON(ctx, prompt, globalSchema, &out); err != nil {
		slog.Warn("graphquery: global phase degraded", "error", err)
	}
	return out
}

// rankCommunities scores each community with reported summaries by
// combining keyword overlap with the query, key-entity mentions and
// key-relationship mentions (§4.5 step 1), and returns them sorted
// descending by that score.
func rankCommunities(query string, communities []kg.Community) []kg.Community {
	queryWords := wordSet(query)
	type scored struct {
		c     kg.Community
		score float64
	}
	var out []scored
	for _, c := range communities {
		if c.Report == nil {
			continue
		}
		score := jaccard(queryWords, wordSet(c.Report.Summary))
		for _, ent := range c.Report.KeyEntities {
			if strings.Contains(strings.ToLower(query), strings.ToLower(ent)) {
				score += 0.3
			}
		}
		for _, rel := range c.Report.KeyRelationships {
			if containsAnyWord(strings.ToLower(query), strings.ToLower(rel)) {
				score += 0.15
			}
		}
		out = append(out, scored{c, score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	result := make([]kg.Community, len(out))
	for i, s := range out {
		result[i] = s.c
	}
	return result
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,;:!?()\"'")] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func containsAnyWord(haystack, needle string) bool {
	for _, w := range strings.Fields(needle) {
		if len(w) > 3 && strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}

type followUpResult struct {
	FollowUps []FollowUp `json:"follow_ups"`
}

var followUpSchema = jsonmodel.NewSchema("follow_ups",
	jsonmodel.Field{Name: "follow_ups", Type: jsonmodel.FieldObjectArray, Description: "3-5 objects {question, tag, priority}; tag is one of entity, relationship, temporal, causal; priority in [0,1]"},
)

// followUpPhase generates 3-5 prioritized follow-up questions from the
// global answer (§4.5 step 2).
func (e *Engine) followUpPhase(ctx context.Context, query string, global GlobalAnswer) []FollowUp {
	prompt := fmt.Sprintf("Given the query %q and this broad answer:\n%s\n\nGenerate 3 to 5 follow-up questions that would sharpen or verify the answer.", query, global.Answer)

	var out followUpResult
	if err := e.model.GenerateJSON(ctx, prompt, followUpSchema, &out); err != nil {
		slog.Warn("graphquery: follow-up phase degraded", "error", err)
	}
	sort.SliceStable(out.FollowUps, func(i, j int) bool { return out.FollowUps[i].Priority > out.FollowUps[j].Priority })
	if len(out.FollowUps) > 5 {
		out.FollowUps = out.FollowUps[:5]
	}
	return out.FollowUps
}

var localSchema = jsonmodel.NewSchema("local_finding",
	jsonmodel.Field{Name: "answer", Type: jsonmodel.FieldString, Description: "focused answer to the follow-up question"},
	jsonmodel.Field{Name: "evidence", Type: jsonmodel.FieldStringArray, Description: "quoted or paraphrased supporting text"},
	jsonmodel.Field{Name: "confidence", Type: jsonmodel.FieldFloat, Description: "confidence in [0,1]"},
	jsonmodel.Field{Name: "entity_mentions", Type: jsonmodel.FieldStringArray, Description: "entity names mentioned in the evidence"},
)

// localPhase retrieves top-N TextUnits per follow-up (in priority
// order) and asks the model for a focused answer, stopping early once a
// finding's confidence drops below cfg.ConfidenceFloor (§4.5 step 3).
func (e *Engine) localPhase(ctx context.Context, followUps []FollowUp) []LocalFinding {
	var findings []LocalFinding
	for _, fu := range followUps {
		units, err := e.relevantUnits(ctx, fu.Question, e.cfg.TopUnits)
		if err != nil {
			slog.Warn("graphquery: local retrieval failed", "followup", fu.Question, "error", err)
			continue
		}

		var b strings.Builder
		for _, u := range units {
			b.WriteString(u.Text)
			b.WriteString("\n\n")
		}
		prompt := fmt.Sprintf("Follow-up question: %s\n\nRelevant text units:\n%s", fu.Question, b.String())

		var finding LocalFinding
		if err := e.model.GenerateJSON(ctx, prompt, localSchema, &finding); err != nil {
			slog.Warn("graphquery: local phase degraded", "followup", fu.Question, "error", err)
		}
		findings = append(findings, finding)

		if finding.Confidence < e.cfg.ConfidenceFloor {
			slog.Info("graphquery: stopping local phase early", "followup", fu.Question, "confidence", finding.Confidence)
			break
		}
	}
	return findings
}

var synthesisSchema = jsonmodel.NewSchema("synthesis",
	jsonmodel.Field{Name: "executive_summary", Type: jsonmodel.FieldString, Description: "one-paragraph executive summary"},
	jsonmodel.Field{Name: "global_insights", Type: jsonmodel.FieldString, Description: "summary of the global-phase insights"},
	jsonmodel.Field{Name: "local_findings", Type: jsonmodel.FieldString, Description: "summary of the local-phase findings"},
	jsonmodel.Field{Name: "confidence_assessment", Type: jsonmodel.FieldString, Description: "assessment of overall confidence"},
	jsonmodel.Field{Name: "recommendations", Type: jsonmodel.FieldString, Description: "recommended next steps"},
)

// synthesize produces the final combined answer (§4.5 step 4). On model
// degradation it falls back to a deterministic concatenation of the raw
// global and local phase outputs so Respond never returns empty text.
func (e *Engine) synthesize(ctx context.Context, query string, global GlobalAnswer, followUps []FollowUp, findings []LocalFinding) string {
	var localText strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&localText, "%d. %s (confidence %.2f)\n", i+1, f.Answer, f.Confidence)
	}

	prompt := fmt.Sprintf("Synthesize a final answer to %q.\n\nGlobal answer:\n%s\n\nLocal findings:\n%s",
		query, global.Answer, localText.String())

	var out struct {
		ExecutiveSummary     string `json:"executive_summary"`
		GlobalInsights       string `json:"global_insights"`
		LocalFindings        string `json:"local_findings"`
		ConfidenceAssessment string `json:"confidence_assessment"`
		Recommendations      string `json:"recommendations"`
	}
	if err := e.model.GenerateJSON(ctx, prompt, synthesisSchema, &out); err != nil || strings.TrimSpace(out.ExecutiveSummary) == "" {
		slog.Warn("graphquery: synthesis degraded, falling back to deterministic concatenation", "error", err)
		out.ExecutiveSummary = global.Answer
		out.GlobalInsights = strings.Join(global.KeyInsights, "; ")
		out.LocalFindings = localText.String()
		out.ConfidenceAssessment = fmt.Sprintf("global confidence %.2f", global.Confidence)
		out.Recommendations = ""
	}

	return strings.Join([]string{
		out.ExecutiveSummary,
		out.GlobalInsights,
		out.LocalFindings,
		out.ConfidenceAssessment,
		out.Recommendations,
	}, "\n\n")
}

// relevantUnits embeds text and ranks every TextUnit in the graph by
// cosine similarity, returning the top n.
func (e *Engine) relevantUnits(ctx context.Context, text string, n int) ([]kg.TextUnit, error) {
	qv, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("graphquery: embedding query: %w", err)
	}

	units := e.graph.TextUnits()
	type scored struct {
		u     kg.TextUnit
		score float64
	}
	var out []scored
	for _, u := range units {
		sim, ok := qv.Similarity(embedder.Embedding{Vector: u.Embedding})
		if !ok {
			continue
		}
		out = append(out, scored{u, sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > n {
		out = out[:n]
	}
	result := make([]kg.TextUnit, len(out))
	for i, s := range out {
		result[i] = s.u
	}
	return result, nil
}

// FindDocuments embeds text and ranks Documents by the mean of
// similarity³ over each document's TextUnits, returning the top k
// (§4.5: find_documents).
func (e *Engine) FindDocuments(ctx context.Context, text string, k int) ([]kg.Document, error) {
	qv, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("graphquery: embedding query: %w", err)
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, u := range e.graph.TextUnits() {
		sim, ok := qv.Similarity(embedder.Embedding{Vector: u.Embedding})
		if !ok {
			continue
		}
		sums[u.DocumentID] += sim * sim * sim
		counts[u.DocumentID]++
	}

	type scored struct {
		id    string
		score float64
	}
	var ranked []scored
	for docID, sum := range sums {
		if counts[docID] == 0 {
			continue
		}
		ranked = append(ranked, scored{docID, sum / float64(counts[docID])})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]kg.Document, 0, len(ranked))
	for _, r := range ranked {
		if d, ok := e.graph.Document(r.id); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetRelevantTextUnitsDistinctDocs embeds text, scores every TextUnit by
// cosine similarity, and returns the highest-scoring unit per distinct
// document, up to n units (§4.5: get_relevant_text_units_distinct_docs).
func (e *Engine) GetRelevantTextUnitsDistinctDocs(ctx context.Context, text string, n int) ([]kg.TextUnit, error) {
	qv, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("graphquery: embedding query: %w", err)
	}

	bestPerDoc := make(map[string]kg.TextUnit)
	bestScore := make(map[string]float64)
	for _, u := range e.graph.TextUnits() {
		sim, ok := qv.Similarity(embedder.Embedding{Vector: u.Embedding})
		if !ok {
			continue
		}
		if cur, ok := bestScore[u.DocumentID]; !ok || sim > cur {
			bestScore[u.DocumentID] = sim
			bestPerDoc[u.DocumentID] = u
		}
	}

	type scored struct {
		u     kg.TextUnit
		score float64
	}
	var ranked []scored
	for docID, u := range bestPerDoc {
		ranked = append(ranked, scored{u, bestScore[docID]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]kg.TextUnit, len(ranked))
	for i, r := range ranked {
		out[i] = r.u
	}
	return out, nil
}
