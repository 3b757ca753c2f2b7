package expertset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sotatable/sota/kanban"
	"github.com/sotatable/sota/sotatable"
)

// DriverConfig tunes the round loop (§4.11).
type DriverConfig struct {
	// MaxRounds bounds how many ActionPicker rounds run before the driver
	// force-terminates as if AcceptSota had won. Default 10, grounded on
	// original_source/expert_set/expert_set.py's MAX_ROUNDS.
	MaxRounds int
}

// DefaultDriverConfig matches the original's constant.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{MaxRounds: 10}
}

// ExpertSetDriver runs the deliberation loop against a kanban.Board:
// each round, ActionPicker chooses among {AddDocument, RemoveDocument,
// AskUser, AcceptSota}; the first three dispatch to PaperAdder,
// DocumentRemover or UserQuestioner respectively and the loop continues;
// AcceptSota (or exhausting MaxRounds) ends it (§4.11).
type ExpertSetDriver struct {
	board   *kanban.Board
	picker  *ActionPicker
	adder   *PaperAdder
	remover *DocumentRemover
	asker   *UserQuestioner
	experts []*Expert
	cfg     DriverConfig
}

// NewExpertSetDriver returns a driver wired to board and the given
// sub-components.
func NewExpertSetDriver(board *kanban.Board, picker *ActionPicker, adder *PaperAdder, remover *DocumentRemover, asker *UserQuestioner, experts []*Expert, cfg DriverConfig) *ExpertSetDriver {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 10
	}
	return &ExpertSetDriver{board: board, picker: picker, adder: adder, remover: remover, asker: asker, experts: experts, cfg: cfg}
}

// RoundOutcome records what one Run round did, for callers that want to
// observe progress (e.g. a CLI printing round-by-round status).
type RoundOutcome struct {
	Round  int
	Action Action
	Detail string
}

// Run executes the deliberation loop to completion and returns the
// rendered SotaTable markdown (§4.11, §6).
func (d *ExpertSetDriver) Run(ctx context.Context) (string, []RoundOutcome, error) {
	var outcomes []RoundOutcome

	for round := 1; round <= d.cfg.MaxRounds; round++ {
		description := d.board.Description()
		thoughts := d.board.Thoughts()
		sotaMarkdown := d.board.SotaMarkdown()

		pick, err := d.picker.Pick(ctx, description, thoughts, sotaMarkdown, d.experts)
		if err != nil {
			return d.board.SotaMarkdown(), outcomes, fmt.Errorf("expertsetdriver: round %d: pick action: %w", round, err)
		}

		slog.Info("expertsetdriver: round decided", "round", round, "action", pick.Action, "tally", pick.Tally)

		switch pick.Action {
		case ActionAddDocument:
			result, aerr := d.addRound(ctx, description, thoughts)
			if aerr != nil {
				slog.Warn("expertsetdriver: add round failed", "round", round, "error", aerr)
			}
			detail := fmt.Sprintf("added %v, proposed columns %v", result.AddedDocumentIDs, result.NewColumns)
			d.recordRoundThought(round, pick, detail)
			outcomes = append(outcomes, RoundOutcome{Round: round, Action: pick.Action, Detail: detail})

		case ActionRemoveDocument:
			result, rerr := d.removeRound(ctx, description, thoughts)
			if rerr != nil {
				slog.Warn("expertsetdriver: remove round failed", "round", round, "error", rerr)
			}
			detail := fmt.Sprintf("removed %v", result.RemovedDocumentIDs)
			if result.Summary != "" {
				detail = result.Summary
			}
			d.recordRoundThought(round, pick, detail)
			outcomes = append(outcomes, RoundOutcome{Round: round, Action: pick.Action, Detail: detail})

		case ActionAskUser:
			result, aerr := d.asker.Ask(ctx, description, thoughts, d.experts)
			if aerr != nil {
				slog.Warn("expertsetdriver: ask round failed", "round", round, "error", aerr)
			}
			if result.CombinedQuestion != "" {
				detail := fmt.Sprintf("%s\nAnswer: %s", result.CombinedQuestion, result.Answer)
				d.recordRoundThought(round, pick, detail)
				if result.UpdatedDescription != "" && result.UpdatedDescription != description {
					d.board.UpdateDescription(result.UpdatedDescription)
				}
				d.applyExpertSetUpdate(result)
			}
			outcomes = append(outcomes, RoundOutcome{Round: round, Action: pick.Action, Detail: result.Answer})

		case ActionAcceptSota:
			outcomes = append(outcomes, RoundOutcome{Round: round, Action: pick.Action, Detail: "accepted"})
			return d.board.SotaMarkdown(), outcomes, nil

		default:
			// An unrecognized/degraded vote already fell back to
			// AcceptSota inside ActionPicker.tiebreak; this branch is
			// unreachable but kept defensive against future Action values.
			outcomes = append(outcomes, RoundOutcome{Round: round, Action: pick.Action, Detail: "unrecognized, stopping"})
			return d.board.SotaMarkdown(), outcomes, nil
		}
	}

	slog.Info("expertsetdriver: max rounds reached, stopping as if AcceptSota won", "max_rounds", d.cfg.MaxRounds)
	return d.board.SotaMarkdown(), outcomes, nil
}

// recordRoundThought appends the round's note to the board's
// deliberation history, preferring ActionPicker's model-authored
// summary (§4.7 step 4) over a code-generated line, with the
// action-specific detail folded in alongside it.
func (d *ExpertSetDriver) recordRoundThought(round int, pick PickActionResult, detail string) {
	if pick.Summary == "" {
		d.board.RecordThought(fmt.Sprintf("round %d: %s — %s", round, pick.Action, detail))
		return
	}
	d.board.RecordThought(fmt.Sprintf("round %d: %s — %s (%s)", round, pick.Action, pick.Summary, detail))
}

// applyExpertSetUpdate retires or adds experts per an AskUser round's
// ExpertSetUpdate decision (§4.12). Removal ids are the positional
// "expert_N" ids UserQuestioner.Ask assigned against the same experts
// slice, so they are resolved the same way here before d.experts is
// mutated.
func (d *ExpertSetDriver) applyExpertSetUpdate(result UserQuestionerResult) {
	if len(result.RemovedExpertIDs) > 0 {
		remove := make(map[string]bool, len(result.RemovedExpertIDs))
		for _, id := range result.RemovedExpertIDs {
			remove[id] = true
		}
		kept := make([]*Expert, 0, len(d.experts))
		for i, e := range d.experts {
			if remove[expertID(i)] {
				slog.Info("expertsetdriver: retiring expert", "expert", e.Name)
				continue
			}
			kept = append(kept, e)
		}
		d.experts = kept
	}
	for _, e := range result.NewExperts {
		slog.Info("expertsetdriver: adding new expert", "expert", e.Name)
	}
	d.experts = append(d.experts, result.NewExperts...)
}

func (d *ExpertSetDriver) addRound(ctx context.Context, description string, thoughts []string) (PaperAdderResult, error) {
	var result PaperAdderResult
	var err error
	d.board.WithTable(func(t *sotatable.Table) {
		result, err = d.adder.Add(ctx, description, thoughts, t, d.experts)
	})
	return result, err
}

func (d *ExpertSetDriver) removeRound(ctx context.Context, description string, thoughts []string) (DocumentRemoverResult, error) {
	var result DocumentRemoverResult
	var err error
	d.board.WithTable(func(t *sotatable.Table) {
		result, err = d.remover.Remove(ctx, description, thoughts, t, d.experts)
	})
	return result, err
}
