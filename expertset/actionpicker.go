package expertset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	sota "github.com/sotatable/sota"
	"github.com/sotatable/sota/jsonmodel"
)

// ActionPickerConfig tunes the per-round presentation (§4.7).
type ActionPickerConfig struct {
	// ExtraContextPapers is how many RAG excerpts each expert is shown
	// per round. Default 2, grounded on original_source/expert_set/
	// action_picker.py's EXTRA_CONTEXT_AMOUNT_OF_PAPERS.
	ExtraContextPapers int
}

// DefaultActionPickerConfig matches the original's constant.
func DefaultActionPickerConfig() ActionPickerConfig {
	return ActionPickerConfig{ExtraContextPapers: 2}
}

// ActionPicker runs one round's vote across the expert pool (§4.7).
type ActionPicker struct {
	model jsonmodel.Client
	cfg   ActionPickerConfig
}

// NewActionPicker returns an ActionPicker.
func NewActionPicker(model jsonmodel.Client, cfg ActionPickerConfig) *ActionPicker {
	if cfg.ExtraContextPapers <= 0 {
		cfg.ExtraContextPapers = 2
	}
	return &ActionPicker{model: model, cfg: cfg}
}

// PickActionResult is the outcome of one round's vote: the winning
// action, a model-authored narrative summary of the round (§4.7 step 4),
// each expert's stated reasoning, and the raw per-expert choice (kept
// for the driver's thought log).
type PickActionResult struct {
	Action    Action
	Summary   string
	Reasoning map[string]string // expert id -> reasoning
	Choices   map[string]Action // expert id -> raw vote, before tiebreak
	Tally     map[Action]int
}

type expertVote struct {
	Reasoning    string `json:"reasoning"`
	ActionChoice string `json:"action_choice"`
}

type actionVotes struct {
	Votes map[string]expertVote `json:"votes"`
}

var actionVoteSchema = jsonmodel.NewSchema("action_votes",
	jsonmodel.Field{
		Name: "votes",
		Type: jsonmodel.FieldObject,
		Description: "one object per expert id (\"expert_0\", \"expert_1\", ...) each shaped " +
			"{\"reasoning\": string, \"action_choice\": one of \"AddDocument\", \"RemoveDocument\", \"AskUser\", \"AcceptSota\"}",
	},
)

type contextNecessity struct {
	NeedsContext bool   `json:"needs_context"`
	RagQuery     string `json:"rag_query"`
}

type contextNecessities struct {
	Necessities map[string]contextNecessity `json:"necessities"`
}

var contextNecessitySchema = jsonmodel.NewSchema("context_necessity",
	jsonmodel.Field{
		Name: "necessities",
		Type: jsonmodel.FieldObject,
		Description: "one object per expert id (\"expert_0\", \"expert_1\", ...) each shaped " +
			"{\"needs_context\": boolean, \"rag_query\": a short query targeted at this expert's RAG scratchpad, " +
			"only meaningful when needs_context is true}",
	},
)

type deliberationSummary struct {
	Summary string `json:"summary"`
}

var deliberationSummarySchema = jsonmodel.NewSchema("deliberation_summary",
	jsonmodel.Field{
		Name:        "summary",
		Type:        jsonmodel.FieldString,
		Description: "a short (1-3 sentence) narrative summary of this round's deliberation and its outcome, to be appended to the thought history future rounds are shown",
	},
)

// Pick decides, per expert, whether more RAG context is needed before
// voting (§4.7 step 1), presents the current topic, deliberation
// history and SOTA table to every expert (each enriched with its own
// targeted excerpts when it asked for them), collects one vote per
// expert, resolves the round's action by plurality with a fixed
// tiebreak order, and finally asks the model for a short narrative
// summary of the round (§4.7 steps 1-4).
func (p *ActionPicker) Pick(ctx context.Context, description string, thoughts []string, sotaMarkdown string, experts []*Expert) (PickActionResult, error) {
	byID := indexExperts(experts)

	necessity := p.checkContextNecessity(ctx, description, byID)

	presentations := make(map[string]ExpertPresentation, len(experts))
	for id, e := range byID {
		var excerpts []string
		if nc, ok := necessity[id]; ok && nc.NeedsContext {
			query := strings.TrimSpace(nc.RagQuery)
			if query == "" {
				query = description
			}
			excerpts = p.gatherExcerpts(ctx, e, query)
		}
		presentations[id] = ExpertPresentation{Description: e.Description, Excerpts: excerpts}
	}

	prompt := p.buildPrompt(description, thoughts, sotaMarkdown, presentations)

	var resp actionVotes
	if err := p.model.GenerateJSON(ctx, prompt, actionVoteSchema, &resp); err != nil {
		return PickActionResult{}, fmt.Errorf("actionpicker: generate: %w", err)
	}

	result := PickActionResult{
		Reasoning: make(map[string]string, len(resp.Votes)),
		Choices:   make(map[string]Action, len(resp.Votes)),
		Tally:     make(map[Action]int),
	}
	for id := range byID {
		v, ok := resp.Votes[id]
		if !ok {
			continue
		}
		result.Reasoning[id] = v.Reasoning
		action := Action(v.ActionChoice)
		if !validAction(action) {
			slog.Warn("actionpicker: expert cast an unrecognized vote, ignoring", "expert", id, "action_choice", v.ActionChoice)
			continue
		}
		result.Choices[id] = action
		result.Tally[action]++
	}

	result.Action = tiebreak(result.Tally)
	result.Summary = p.summarizeRound(ctx, description, sotaMarkdown, result)
	return result, nil
}

// checkContextNecessity asks the model, once per round, whether each
// expert needs to consult its RAG scratchpad before voting and, if so,
// what to query it with (§4.7 step 1). A failed or degraded call simply
// yields no excerpts for this round rather than failing the round.
func (p *ActionPicker) checkContextNecessity(ctx context.Context, description string, byID map[string]*Expert) map[string]contextNecessity {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nExperts:\n", description)
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s\n", id, byID[id].Description)
	}
	b.WriteString("\nFor each expert, decide whether they need to consult their own RAG scratchpad for additional " +
		"context before voting on this round's action. If so, propose a short targeted query for that scratchpad.\n")

	var resp contextNecessities
	if err := p.model.GenerateJSON(ctx, b.String(), contextNecessitySchema, &resp); err != nil {
		slog.Warn("actionpicker: context necessity check failed, skipping scratchpad queries this round", "error", err)
		return nil
	}
	return resp.Necessities
}

// summarizeRound asks the model for a short narrative of this round's
// outcome, which the driver records as the round's thought instead of a
// code-generated log line (§4.7 step 4).
func (p *ActionPicker) summarizeRound(ctx context.Context, description, sotaMarkdown string, result PickActionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nWinning action: %s\n\n", description, result.Action)
	b.WriteString("Per-expert reasoning:\n")
	ids := make([]string, 0, len(result.Reasoning))
	for id := range result.Reasoning {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s\n", id, result.Reasoning[id])
	}
	fmt.Fprintf(&b, "\nCurrent state-of-the-art table:\n%s\n", sotaMarkdown)
	b.WriteString("\nWrite a short summary of this round's deliberation and outcome for the deliberation history.\n")

	var resp deliberationSummary
	if err := p.model.GenerateJSON(ctx, b.String(), deliberationSummarySchema, &resp); err != nil {
		slog.Warn("actionpicker: round summary generation failed", "error", err)
		return ""
	}
	return resp.Summary
}

func validAction(a Action) bool {
	for _, known := range actionPriority {
		if a == known {
			return true
		}
	}
	return false
}

// tiebreak picks the plurality winner, breaking ties by actionPriority
// order (§4.7 step 3, an Open Question the original leaves implicit — see
// DESIGN.md). When no valid vote was cast at all (the degrade case, §7)
// it returns AcceptSota.
func tiebreak(tally map[Action]int) Action {
	best := ActionAcceptSota // safe default when no valid votes were cast at all
	bestCount := 0
	for _, a := range actionPriority {
		if c := tally[a]; c > bestCount {
			bestCount = c
			best = a
		}
	}
	return best
}

func (p *ActionPicker) gatherExcerpts(ctx context.Context, e *Expert, description string) []string {
	if e.Scratchpad == nil {
		return nil
	}
	chunks, err := e.Scratchpad.Query(ctx, description, p.cfg.ExtraContextPapers)
	if err != nil {
		slog.Warn("actionpicker: scratchpad query failed", "expert", e.Name, "error", err)
		return nil
	}
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = fmt.Sprintf("Excerpt from %q: %s", c.DocumentTitle, sota.RelevantSnippet(c.Text, description))
	}
	return out
}

func (p *ActionPicker) buildPrompt(description string, thoughts []string, sotaMarkdown string, presentations map[string]ExpertPresentation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", description)
	if len(thoughts) > 0 {
		b.WriteString("Deliberation history:\n")
		for _, t := range thoughts {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current state-of-the-art table:\n%s\n\n", sotaMarkdown)

	b.WriteString("Experts:\n")
	ids := make([]string, 0, len(presentations))
	for id := range presentations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		pres := presentations[id]
		fmt.Fprintf(&b, "- %s: %s\n", id, pres.Description)
		for _, ex := range pres.Excerpts {
			fmt.Fprintf(&b, "  %s\n", ex)
		}
	}
	b.WriteString("\nEach expert must cast exactly one vote for the next action on this topic: " +
		"AddDocument (search for and add a relevant paper), RemoveDocument (drop a paper that no longer fits), " +
		"AskUser (the table needs a decision only the user can make), or AcceptSota (the table is ready as-is).\n")
	return b.String()
}
