package expertset

import (
	"context"
	"strings"
	"testing"

	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kg"
)

func TestActionPicker_Pick_TalliesVotesAndResolvesPlurality(t *testing.T) {
	stub := jsonmodel.NewStub(`{"votes":{}}`)
	stub.Responses["action_votes"] = `{"votes":{
		"expert_0":{"reasoning":"need more coverage","action_choice":"AddDocument"},
		"expert_1":{"reasoning":"table looks thin","action_choice":"AddDocument"},
		"expert_2":{"reasoning":"good enough","action_choice":"AcceptSota"}
	}}`

	picker := NewActionPicker(stub, DefaultActionPickerConfig())
	result, err := picker.Pick(context.Background(), "topic", nil, "| authors |", testExperts(3))
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if result.Action != ActionAddDocument {
		t.Fatalf("expected AddDocument to win plurality, got %s", result.Action)
	}
	if result.Tally[ActionAddDocument] != 2 || result.Tally[ActionAcceptSota] != 1 {
		t.Fatalf("unexpected tally: %v", result.Tally)
	}
}

func TestActionPicker_Pick_DegradedVotesFallBackToAcceptSota(t *testing.T) {
	stub := jsonmodel.NewStub(`{"votes":{}}`) // zero-value response: no votes cast
	picker := NewActionPicker(stub, DefaultActionPickerConfig())

	result, err := picker.Pick(context.Background(), "topic", nil, "| authors |", testExperts(2))
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if result.Action != ActionAcceptSota {
		t.Fatalf("expected degraded round to default to AcceptSota, got %s", result.Action)
	}
}

func TestActionPicker_Pick_IgnoresUnrecognizedVote(t *testing.T) {
	stub := jsonmodel.NewStub(`{"votes":{}}`)
	stub.Responses["action_votes"] = `{"votes":{
		"expert_0":{"reasoning":"???","action_choice":"DoSomethingElse"},
		"expert_1":{"reasoning":"remove the weak paper","action_choice":"RemoveDocument"}
	}}`

	picker := NewActionPicker(stub, DefaultActionPickerConfig())
	result, err := picker.Pick(context.Background(), "topic", nil, "| authors |", testExperts(2))
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if result.Action != ActionRemoveDocument {
		t.Fatalf("expected the one valid vote to win, got %s", result.Action)
	}
	if _, ok := result.Choices["expert_0"]; ok {
		t.Fatalf("unrecognized vote should not be recorded in Choices")
	}
}

func TestActionPicker_GatherExcerpts_CondensesScratchpadChunks(t *testing.T) {
	pad := NewRagScratchpad(fakeEmbedder{dim: 8})
	doc := kg.Document{
		ID:    "doc1",
		Title: "Efficient Transformers",
		Content: "Setup is straightforward. This paper proposes a new efficient transformer architecture " +
			"for long-context inference. Unrelated trivia about cooking follows here.",
	}
	if err := pad.Ingest(context.Background(), doc, chunker.Config{MaxTokens: 500}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	e := &Expert{ID: "expert_0", Name: "expert_0", Description: "efficient transformer architectures", Scratchpad: pad}
	picker := NewActionPicker(jsonmodel.NewStub(`{"votes":{}}`), DefaultActionPickerConfig())

	excerpts := picker.gatherExcerpts(context.Background(), e, "efficient transformer architecture for long-context inference")
	if len(excerpts) == 0 {
		t.Fatal("expected at least one excerpt")
	}
	for _, ex := range excerpts {
		if !strings.Contains(ex, "Efficient Transformers") {
			t.Fatalf("expected excerpt to cite the document title, got %q", ex)
		}
	}
}
