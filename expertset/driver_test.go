package expertset

import (
	"context"
	"testing"

	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kanban"
)

func TestExpertSetDriver_Run_StopsOnAcceptSota(t *testing.T) {
	board := kanban.New("comparison of efficient transformer architectures", kanban.DefaultConfig())

	stub := jsonmodel.NewStub(`{"votes":{}}`)
	stub.Responses["action_votes"] = `{"votes":{"expert_0":{"reasoning":"looks complete","action_choice":"AcceptSota"}}}`

	picker := NewActionPicker(stub, DefaultActionPickerConfig())
	adder := NewPaperAdder(stub, stubRecoverer{}, DefaultPaperAdderConfig())
	remover := NewDocumentRemover(stub, DefaultDocumentRemoverConfig())
	asker := NewUserQuestioner(stub, &stubUserAPI{}, stubRecoverer{}, fakeEmbedder{dim: 8}, chunker.Config{MaxTokens: 500}, 3)

	driver := NewExpertSetDriver(board, picker, adder, remover, asker, testExperts(1), DefaultDriverConfig())

	_, outcomes, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Action != ActionAcceptSota {
		t.Fatalf("expected a single AcceptSota round, got %v", outcomes)
	}
}

func TestExpertSetDriver_Run_StopsAtMaxRounds(t *testing.T) {
	board := kanban.New("topic", kanban.DefaultConfig())

	stub := jsonmodel.NewStub(`{"votes":{}}`)
	stub.Responses["action_votes"] = `{"votes":{"expert_0":{"reasoning":"ask something","action_choice":"AskUser"}}}`
	stub.Responses["expert_questions"] = `{"questions":{"expert_0":{"reasoning":"r","has_question":false,"question":""}}}`

	picker := NewActionPicker(stub, DefaultActionPickerConfig())
	adder := NewPaperAdder(stub, stubRecoverer{}, DefaultPaperAdderConfig())
	remover := NewDocumentRemover(stub, DefaultDocumentRemoverConfig())
	asker := NewUserQuestioner(stub, &stubUserAPI{}, stubRecoverer{}, fakeEmbedder{dim: 8}, chunker.Config{MaxTokens: 500}, 3)

	cfg := DefaultDriverConfig()
	cfg.MaxRounds = 3
	driver := NewExpertSetDriver(board, picker, adder, remover, asker, testExperts(1), cfg)

	_, outcomes, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected MaxRounds=3 outcomes, got %d", len(outcomes))
	}
}
