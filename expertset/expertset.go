// Package expertset implements the multi-agent deliberation layer
// (§4.7-§4.12): a pool of domain-scoped Experts, each with a private
// RagScratchpad, voting each round on one of
// {AddDocument, RemoveDocument, AskUser, AcceptSota} via ActionPicker,
// and growing the SotaTable through PaperAdder, DocumentRemover and
// UserQuestioner under ExpertSetDriver's round loop.
//
// Grounded on original_source/expert_set/*.py (expert_set.py,
// action_picker.py, document_remover.py, user_questioner.py,
// paper_adder.py), reworked from pydantic request/response models onto
// jsonmodel.Schema and from python's ThreadPoolExecutor fan-out onto
// golang.org/x/sync/errgroup, matching the concurrency idiom already
// established in graphbuild and recoverer.
package expertset

import (
	"context"

	"github.com/sotatable/sota/kg"
)

// KnowledgeRecoverer is the Recoverer bridge (§6): recover_docs and
// get_survey_docs. Declared locally (structural typing) so expertset
// has no compile-time dependency on the concrete recoverer package;
// *recoverer.Recoverer satisfies this interface as-is.
type KnowledgeRecoverer interface {
	RecoverDocs(ctx context.Context, query string, k int) ([]kg.Document, error)
	GetSurveyDocs(ctx context.Context, query string, k int) ([]kg.Document, error)
}

// UserAPI is the user-facing port (§6): query_user (blocking),
// message_user. Declared locally for the same structural-typing reason;
// receptionist.ConsoleUserAPI satisfies this interface.
type UserAPI interface {
	QueryUser(ctx context.Context, prompt string) (string, error)
	MessageUser(ctx context.Context, text string) error
}

// Expert is a named, described agent with its own RAG scratchpad
// (§3 Glossary). Per-round vote maps do not key on Expert.ID: they use
// positional ids ("expert_0", "expert_1", ...) assigned by indexExperts
// from the expert's place in the current slice. Name is a human label;
// experts added by UserQuestioner get their minted id as both ID and Name.
type Expert struct {
	ID          string
	Name        string
	Description string
	Scratchpad  *RagScratchpad
}

// Action is one of the four terminal round choices (§4.7, §4.11).
type Action string

const (
	ActionAddDocument    Action = "AddDocument"
	ActionRemoveDocument Action = "RemoveDocument"
	ActionAskUser        Action = "AskUser"
	ActionAcceptSota     Action = "AcceptSota"
)

// actionPriority is the "predefined action order" §4.7 step 3 breaks
// ties with. Preserved from the enum declaration order in
// original_source/expert_set/models/round_action.py (AddDocument,
// RemoveDocument, AskUser, AcceptSota) — an Open Question the source
// leaves implicit; see DESIGN.md.
var actionPriority = []Action{ActionAddDocument, ActionRemoveDocument, ActionAskUser, ActionAcceptSota}

// isMutating reports whether action drives one of PaperAdder,
// DocumentRemover or UserQuestioner (§4.11: the three non-terminal
// actions).
func isMutating(a Action) bool {
	return a == ActionAddDocument || a == ActionRemoveDocument || a == ActionAskUser
}

// ExpertPresentation is what ActionPicker shows the model for one
// expert: its description plus any RAG excerpts fetched this round
// (§4.7 step 1-2).
type ExpertPresentation struct {
	Description string
	Excerpts    []string // "Excerpt from \"<title>\": <relevant snippet of the chunk>"
}

func expertID(i int) string {
	return "expert_" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

func indexExperts(experts []*Expert) map[string]*Expert {
	out := make(map[string]*Expert, len(experts))
	for i, e := range experts {
		out[expertID(i)] = e
	}
	return out
}
