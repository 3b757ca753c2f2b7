package expertset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/embedder"
	"github.com/sotatable/sota/jsonmodel"
)

// UserQuestioner implements the AskUser action (§4.9): each expert that
// wants to ask something proposes one question, the questions are
// concatenated into a single numbered prompt, and the combined prompt is
// put to the user exactly once per round. The answer then drives two
// further model calls: a DescriptionUpdate that folds the answer into
// the topic description, and an ExpertSetUpdate that may retire existing
// experts or add new ones, seeded via KnowledgeRecoverer.GetSurveyDocs
// (§4.12). Grounded on original_source/expert_set/user_questioner.py's
// ask_questions, update_description and update_expert_set.
type UserQuestioner struct {
	model    jsonmodel.Client
	user     UserAPI
	recov    KnowledgeRecoverer
	emb      embedder.Embedder
	chunkCfg chunker.Config
	surveyK  int
}

// NewUserQuestioner returns a UserQuestioner. recov and emb seed any new
// experts ExpertSetUpdate proposes; chunkCfg and surveyK match
// BuildExpert's ingestion parameters used at startup.
func NewUserQuestioner(model jsonmodel.Client, user UserAPI, recov KnowledgeRecoverer, emb embedder.Embedder, chunkCfg chunker.Config, surveyK int) *UserQuestioner {
	if surveyK <= 0 {
		surveyK = 3
	}
	return &UserQuestioner{model: model, user: user, recov: recov, emb: emb, chunkCfg: chunkCfg, surveyK: surveyK}
}

type expertQuestion struct {
	Reasoning   string `json:"reasoning"`
	Question    string `json:"question"`
	HasQuestion bool   `json:"has_question"`
}

type expertQuestions struct {
	Questions map[string]expertQuestion `json:"questions"`
}

var expertQuestionSchema = jsonmodel.NewSchema("expert_questions",
	jsonmodel.Field{
		Name: "questions",
		Type: jsonmodel.FieldObject,
		Description: "one object per expert id (\"expert_0\", \"expert_1\", ...) each shaped " +
			"{\"reasoning\": string, \"has_question\": boolean, \"question\": string (empty if has_question is false)}",
	},
)

type descriptionUpdate struct {
	Reasoning          string `json:"reasoning"`
	UpdatedDescription string `json:"updated_description"`
}

var descriptionUpdateSchema = jsonmodel.NewSchema("description_update",
	jsonmodel.Field{Name: "reasoning", Type: jsonmodel.FieldString, Description: "why the topic description should, or should not, change given the user's answer"},
	jsonmodel.Field{Name: "updated_description", Type: jsonmodel.FieldString, Description: "the topic description to use from now on, folding in the user's answer"},
)

type expertSetUpdateResponse struct {
	WhetherToRemoveReasoning string   `json:"whether_to_remove_reasoning"`
	ToRemove                 []string `json:"to_remove"`
	WhetherToAddReasoning    string   `json:"whether_to_add_reasoning"`
	ToAdd                    []string `json:"to_add"`
}

var expertSetUpdateSchema = jsonmodel.NewSchema("expert_set_update",
	jsonmodel.Field{Name: "whether_to_remove_reasoning", Type: jsonmodel.FieldString, Description: "why any current experts should, or should not, be retired given the user's answer"},
	jsonmodel.Field{Name: "to_remove", Type: jsonmodel.FieldStringArray, Description: "expert ids (\"expert_0\", ...) to retire, empty if none"},
	jsonmodel.Field{Name: "whether_to_add_reasoning", Type: jsonmodel.FieldString, Description: "why a new domain expert should, or should not, be added given the user's answer"},
	jsonmodel.Field{Name: "to_add", Type: jsonmodel.FieldStringArray, Description: "domain descriptions for new experts to add, empty if none"},
)

// ExpertSetUpdate is the model's decision about growing or shrinking the
// expert pool in response to the user's answer (§4.12), preserved as two
// reasoning fields mirroring original_source/expert_set/user_questioner.py's
// whether_to_remove_reasoning/whether_to_add_reasoning split.
type ExpertSetUpdate struct {
	WhetherToRemoveReasoning string
	WhetherToAddReasoning    string
	ToRemove                 []string
	ToAdd                    []string
}

// UserQuestionerResult is the outcome of one AskUser round.
type UserQuestionerResult struct {
	CombinedQuestion string
	Answer           string
	Reasoning        map[string]string

	DescriptionUpdateReasoning string
	UpdatedDescription         string

	ExpertSetUpdate  ExpertSetUpdate
	RemovedExpertIDs []string
	NewExperts       []*Expert
}

// Ask collects one candidate question per expert, concatenates the ones
// that opted in, puts the combined question to the user exactly once,
// then asks the model to fold the answer into the topic description and
// to decide whether the expert pool itself should change (§4.9 steps
// 1-3, §4.12).
func (q *UserQuestioner) Ask(ctx context.Context, description string, thoughts []string, experts []*Expert) (UserQuestionerResult, error) {
	byID := indexExperts(experts)
	prompt := q.buildPrompt(description, thoughts, byID)

	var resp expertQuestions
	if err := q.model.GenerateJSON(ctx, prompt, expertQuestionSchema, &resp); err != nil {
		return UserQuestionerResult{}, fmt.Errorf("userquestioner: generate: %w", err)
	}

	reasoning := make(map[string]string, len(resp.Questions))
	ids := make([]string, 0, len(resp.Questions))
	for id := range resp.Questions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var combined strings.Builder
	n := 0
	for _, id := range ids {
		eq := resp.Questions[id]
		reasoning[id] = eq.Reasoning
		if !eq.HasQuestion || strings.TrimSpace(eq.Question) == "" {
			continue
		}
		n++
		name := id
		if e, ok := byID[id]; ok {
			name = e.Name
		}
		fmt.Fprintf(&combined, "%d. (%s) %s\n", n, name, eq.Question)
	}

	result := UserQuestionerResult{CombinedQuestion: combined.String(), Reasoning: reasoning}
	if n == 0 {
		return result, nil
	}

	answer, err := q.user.QueryUser(ctx, "The research assistants have the following questions:\n"+result.CombinedQuestion)
	if err != nil {
		return result, fmt.Errorf("userquestioner: query user: %w", err)
	}
	result.Answer = answer

	descUpdate, updatedDescription := q.updateDescription(ctx, description, answer)
	result.DescriptionUpdateReasoning = descUpdate.Reasoning
	result.UpdatedDescription = updatedDescription

	setUpdate := q.updateExpertSet(ctx, updatedDescription, answer, byID)
	result.ExpertSetUpdate = setUpdate
	result.RemovedExpertIDs = setUpdate.ToRemove
	result.NewExperts = q.buildNewExperts(ctx, setUpdate.ToAdd, len(experts))

	return result, nil
}

// updateDescription asks the model to fold the user's answer into the
// topic description (§4.9 step 3). A failed or degraded call leaves the
// description unchanged.
func (q *UserQuestioner) updateDescription(ctx context.Context, description, answer string) (descriptionUpdate, string) {
	prompt := fmt.Sprintf("Current topic description: %s\n\nUser's answer to the research assistants' questions: %s\n\n"+
		"Decide how the topic description should be updated to reflect this answer.", description, answer)

	var resp descriptionUpdate
	if err := q.model.GenerateJSON(ctx, prompt, descriptionUpdateSchema, &resp); err != nil {
		slog.Warn("userquestioner: description update generation failed", "error", err)
		return descriptionUpdate{}, description
	}
	updated := strings.TrimSpace(resp.UpdatedDescription)
	if updated == "" {
		updated = description
	}
	return resp, updated
}

// updateExpertSet asks the model whether the expert pool should change
// in response to the user's answer (§4.12). A failed or degraded call
// leaves the expert pool unchanged.
func (q *UserQuestioner) updateExpertSet(ctx context.Context, description, answer string, byID map[string]*Expert) ExpertSetUpdate {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nUser's answer: %s\n\nCurrent experts:\n", description, answer)
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s\n", id, byID[id].Description)
	}
	b.WriteString("\nDecide whether any current experts should be retired as no longer relevant to the topic, and " +
		"whether a new domain expert should be added to cover a gap the answer revealed.\n")

	var resp expertSetUpdateResponse
	if err := q.model.GenerateJSON(ctx, b.String(), expertSetUpdateSchema, &resp); err != nil {
		slog.Warn("userquestioner: expert set update generation failed", "error", err)
		return ExpertSetUpdate{}
	}
	return ExpertSetUpdate{
		WhetherToRemoveReasoning: resp.WhetherToRemoveReasoning,
		WhetherToAddReasoning:    resp.WhetherToAddReasoning,
		ToRemove:                 resp.ToRemove,
		ToAdd:                    resp.ToAdd,
	}
}

// buildNewExperts seeds one Expert per proposed domain description via
// KnowledgeRecoverer.GetSurveyDocs, matching BuildExpert's startup path
// (§4.12). startIndex keeps freshly minted ids from colliding with the
// round's positional "expert_N" ids.
func (q *UserQuestioner) buildNewExperts(ctx context.Context, descriptions []string, startIndex int) []*Expert {
	if len(descriptions) == 0 || q.recov == nil {
		return nil
	}
	var out []*Expert
	for i, desc := range descriptions {
		desc = strings.TrimSpace(desc)
		if desc == "" {
			continue
		}
		id := fmt.Sprintf("expert_new_%d_%d", startIndex, i)
		e, err := BuildExpert(ctx, id, id, desc, q.recov, q.emb, q.chunkCfg, q.surveyK)
		if err != nil {
			slog.Warn("userquestioner: building new expert failed", "description", desc, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

func (q *UserQuestioner) buildPrompt(description string, thoughts []string, byID map[string]*Expert) string {
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
	b.WriteString("\nEach expert may propose at most one clarifying question for the user about the topic's scope or direction. An expert with nothing to ask should set has_question to false.\n")
	return b.String()
}
