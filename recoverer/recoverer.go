// Package recoverer implements the Recoverer bridge (§4.6): it asks
// GraphQuery whether the current knowledge graph already answers a
// query, and if not, asks the model which SourceAdapters to query and
// with what sub-queries, dispatches those queries in parallel, and
// folds the results back into the graph via GraphBuilder's incremental
// update path. Grounded on
// original_source/recoverer_agent/recoverer_agent.py's two-iteration
// loop, reworked from Python's ThreadPoolExecutor fan-out onto
// golang.org/x/sync/errgroup and from its ad hoc pydantic models onto
// jsonmodel.Client.
package recoverer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sotatable/sota/graphbuild"
	"github.com/sotatable/sota/graphquery"
	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kg"
	"github.com/sotatable/sota/sourceadapter"
)

// Config tunes a Recoverer.
type Config struct {
	// MaxIterations bounds how many respond/select/dispatch rounds run
	// before falling back to find_documents over the last response.
	// Default 2 (§4.6: "a small fixed maximum of iterations (e.g. 2-3)").
	MaxIterations int
}

// DefaultConfig matches §4.6's default iteration cap.
func DefaultConfig() Config {
	return Config{MaxIterations: 2}
}

// Recoverer bridges GraphQuery with a set of external SourceAdapters.
type Recoverer struct {
	query   *graphquery.Engine
	builder *graphbuild.Builder
	model   jsonmodel.Client
	sources []sourceadapter.Adapter
	survey  sourceadapter.Adapter
	cfg     Config

	mu      sync.Mutex
	tracked map[string][]string // source name -> previously issued sub-queries
}

// New returns a Recoverer. survey is the single adapter used by
// GetSurveyDocs; it may also appear in sources.
func New(query *graphquery.Engine, builder *graphbuild.Builder, model jsonmodel.Client, sources []sourceadapter.Adapter, survey sourceadapter.Adapter, cfg Config) *Recoverer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 2
	}
	return &Recoverer{
		query:   query,
		builder: builder,
		model:   model,
		sources: sources,
		survey:  survey,
		cfg:     cfg,
		tracked: make(map[string][]string),
	}
}

var sufficiencySchema = jsonmodel.NewSchema("sufficiency",
	jsonmodel.Field{Name: "reasoning", Type: jsonmodel.FieldString, Description: "brief reasoning"},
	jsonmodel.Field{Name: "answer", Type: jsonmodel.FieldBool, Description: "true if the given text units already suffice to answer the query"},
)

type subQuery struct {
	Query     string `json:"query"`
	Reasoning string `json:"reasoning"`
}

type sourceSelection struct {
	SourceName      string     `json:"source_name"`
	Selected        bool       `json:"selected"`
	Queries         []subQuery `json:"queries"`
	SourceReasoning string     `json:"source_reasoning"`
}

type selectionResult struct {
	Selections []sourceSelection `json:"selections"`
	Reasoning  string            `json:"reasoning"`
}

var selectionSchema = jsonmodel.NewSchema("source_selection",
	jsonmodel.Field{Name: "selections", Type: jsonmodel.FieldObjectArray, Description: "one object per known source: {source_name, selected, queries: [{query, reasoning}] (0-3 items), source_reasoning}"},
	jsonmodel.Field{Name: "reasoning", Type: jsonmodel.FieldString, Description: "overall selection reasoning"},
)

// RecoverDocs is the Recoverer contract: recover_docs(query, k) →
// [Document] (§4.6).
func (r *Recoverer) RecoverDocs(ctx context.Context, query string, k int) ([]kg.Document, error) {
	var lastResponse string

	for i := 0; i < r.cfg.MaxIterations; i++ {
		response, err := r.query.Respond(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("recoverer: respond: %w", err)
		}
		lastResponse = response

		relevant, err := r.query.GetRelevantTextUnitsDistinctDocs(ctx, response, k)
		if err != nil {
			slog.Warn("recoverer: relevant unit retrieval failed, treating as insufficient", "error", err)
		}

		if r.isSufficient(ctx, query, relevant) {
			return r.query.FindDocuments(ctx, response, k)
		}

		r.selectAndDispatch(ctx, query)
	}

	return r.query.FindDocuments(ctx, lastResponse, k)
}

func (r *Recoverer) isSufficient(ctx context.Context, query string, units []kg.TextUnit) bool {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}
	prompt := fmt.Sprintf("Query: %s\n\nCandidate text units:\n%s\n\nDo these text units already suffice to answer the query?", query, strings.Join(texts, "\n---\n"))

	var out struct {
		Reasoning string `json:"reasoning"`
		Answer    bool   `json:"answer"`
	}
	if err := r.model.GenerateJSON(ctx, prompt, sufficiencySchema, &out); err != nil {
		// Sufficiency-check failures default to "not sufficient" (§4.6).
		slog.Warn("recoverer: sufficiency check failed, defaulting to insufficient", "error", err)
		return false
	}
	return out.Answer
}

// selectAndDispatch asks the model which sources to query and with
// what sub-queries, then runs those sub-queries in parallel across
// sources and folds the resulting documents into the graph.
func (r *Recoverer) selectAndDispatch(ctx context.Context, query string) {
	var b strings.Builder
	r.mu.Lock()
	for _, s := range r.sources {
		fmt.Fprintf(&b, "- %s: %s (previous searches: %v)\n", s.Name(), s.Description(), r.tracked[s.Name()])
	}
	r.mu.Unlock()

	prompt := fmt.Sprintf("Query: %s\n\nKnown sources:\n%s\n\nFor each source, decide whether to search it and, if so, propose up to 3 sub-queries that would find documents relevant to the query. Avoid repeating previous searches.", query, b.String())

	var sel selectionResult
	if err := r.model.GenerateJSON(ctx, prompt, selectionSchema, &sel); err != nil {
		slog.Warn("recoverer: source selection failed, skipping dispatch this round", "error", err)
		return
	}

	bySource := make(map[string]sourceSelection, len(sel.Selections))
	for _, s := range sel.Selections {
		bySource[s.SourceName] = s
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var allDocs []kg.Document

	for _, adapter := range r.sources {
		adapter := adapter
		choice, ok := bySource[adapter.Name()]
		if !ok || !choice.Selected || len(choice.Queries) == 0 {
			slog.Info("recoverer: source not selected", "source", adapter.Name())
			continue
		}
		g.Go(func() error {
			var sourceDocs []kg.Document
			for _, q := range choice.Queries {
				r.mu.Lock()
				r.tracked[adapter.Name()] = append(r.tracked[adapter.Name()], q.Query)
				r.mu.Unlock()

				docs, err := adapter.Recover(gctx, q.Query, 2, nil)
				if err != nil {
					// Per-source failures are logged and skipped (§4.6).
					slog.Warn("recoverer: source query failed", "source", adapter.Name(), "query", q.Query, "error", err)
					continue
				}
				sourceDocs = append(sourceDocs, docs...)
			}
			if len(sourceDocs) > 0 {
				mu.Lock()
				allDocs = append(allDocs, sourceDocs...)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // errors are already logged and swallowed per-source

	if len(allDocs) > 0 {
		if err := r.builder.UpdateKnowledgeGraph(ctx, allDocs); err != nil {
			slog.Warn("recoverer: knowledge graph update failed", "error", err)
		}
	}
}

// GetSurveyDocs queries the single configured survey adapter directly,
// without any graph interaction (§4.6: get_survey_docs).
func (r *Recoverer) GetSurveyDocs(ctx context.Context, query string, k int) ([]kg.Document, error) {
	if r.survey == nil {
		return nil, nil
	}
	if k <= 0 {
		k = 3
	}
	docs, err := r.survey.Recover(ctx, query, k, nil)
	if err != nil {
		return nil, fmt.Errorf("recoverer: survey source: %w", err)
	}
	return docs, nil
}
