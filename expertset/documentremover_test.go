package expertset

import (
	"context"
	"testing"

	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kg"
	"github.com/sotatable/sota/sotatable"
)

func TestDocumentRemover_Remove_UsesIndexVotesAndGCsColumns(t *testing.T) {
	tbl := sotatable.New()
	tbl.AddRow(kg.Document{ID: "r0"}, sotatable.PaperFeatures{Features: map[string]string{"m": "v1", "d": sotatable.NotAvailable}})
	tbl.AddRow(kg.Document{ID: "r1"}, sotatable.PaperFeatures{Features: map[string]string{"m": sotatable.NotAvailable, "d": "v2"}})

	stub := jsonmodel.NewStub(`{"votes":{}}`)
	stub.Responses["document_removal_votes"] = `{"votes":{
		"expert_0":{"reasoning":"no longer fits","documents_to_delete":[1]},
		"expert_1":{"reasoning":"agreed","documents_to_delete":[1]}
	}}`

	remover := NewDocumentRemover(stub, DefaultDocumentRemoverConfig())
	result, err := remover.Remove(context.Background(), "topic", nil, tbl, testExperts(2))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(result.RemovedDocumentIDs) != 1 || result.RemovedDocumentIDs[0] != "r1" {
		t.Fatalf("expected r1 removed, got %v", result.RemovedDocumentIDs)
	}
	if len(tbl.Rows) != 1 || tbl.Rows[0].Document.ID != "r0" {
		t.Fatalf("unexpected remaining rows: %v", tbl.Rows)
	}
	if len(tbl.Features) != 1 || tbl.Features[0] != "m" {
		t.Fatalf("expected orphan column d garbage-collected, got %v", tbl.Features)
	}
}

func TestDocumentRemover_Remove_CapsPerExpertProposals(t *testing.T) {
	tbl := sotatable.New()
	for i := 0; i < 3; i++ {
		tbl.AddRow(kg.Document{ID: string(rune('a' + i))}, sotatable.PaperFeatures{Features: map[string]string{"m": "v"}})
	}

	stub := jsonmodel.NewStub(`{"votes":{}}`)
	stub.Responses["document_removal_votes"] = `{"votes":{
		"expert_0":{"reasoning":"drop all","documents_to_delete":[0,1,2]}
	}}`

	cfg := DefaultDocumentRemoverConfig()
	cfg.MaxToRemove = 1
	remover := NewDocumentRemover(stub, cfg)
	result, err := remover.Remove(context.Background(), "topic", nil, tbl, testExperts(1))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(result.RemovedDocumentIDs) != 1 {
		t.Fatalf("expected MaxToRemove to cap removals at 1, got %v", result.RemovedDocumentIDs)
	}
}
