package expertset

import (
	"context"
	"testing"

	"github.com/sotatable/sota/jsonmodel"
	"github.com/sotatable/sota/kg"
	"github.com/sotatable/sota/sotatable"
)

func TestPaperAdder_Add_CommitsNewRowAndColumn(t *testing.T) {
	tbl := sotatable.New()
	recov := stubRecoverer{docs: []kg.Document{
		{ID: "doc1", Title: "A Transformer Paper", Content: "We propose a new transformer variant. It improves efficiency."},
	}}

	stub := jsonmodel.NewStub(`{}`)
	stub.Responses["search_queries"] = `{"queries":{"expert_0":{"reasoning":"need coverage","query":"transformer efficiency"}}}`
	stub.Responses["search_query_synthesis"] = `{"reasoning":"combine","description":"transformer efficiency"}`
	stub.Responses["new_feature_proposal"] = `{"new_features":["method"]}`
	stub.Responses["feature_dedup"] = `{"new_features":["method"]}`
	stub.Responses["new_feature_values"] = `{"method":"transformer variant"}`

	adder := NewPaperAdder(stub, recov, DefaultPaperAdderConfig())
	result, err := adder.Add(context.Background(), "topic", nil, tbl, testExperts(1))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(result.AddedDocumentIDs) != 1 || result.AddedDocumentIDs[0] != "doc1" {
		t.Fatalf("expected doc1 added, got %v", result.AddedDocumentIDs)
	}
	if len(result.NewColumns) != 1 || result.NewColumns[0] != "method" {
		t.Fatalf("expected column 'method' proposed, got %v", result.NewColumns)
	}
	if len(tbl.Rows) != 1 {
		t.Fatalf("expected 1 row in table, got %d", len(tbl.Rows))
	}
	if v := tbl.Rows[0].Features.Features["method"]; v != "transformer variant" {
		t.Fatalf("expected method=transformer variant, got %q", v)
	}
}

func TestPaperAdder_Add_SkipsAlreadyPresentDocuments(t *testing.T) {
	tbl := sotatable.New()
	tbl.AddRow(kg.Document{ID: "doc1"}, sotatable.PaperFeatures{Features: map[string]string{}})

	recov := stubRecoverer{docs: []kg.Document{{ID: "doc1", Title: "Already present", Content: "text"}}}
	stub := jsonmodel.NewStub(`{}`)
	stub.Responses["search_queries"] = `{"queries":{"expert_0":{"reasoning":"r","query":"q"}}}`
	stub.Responses["search_query_synthesis"] = `{"reasoning":"single query","description":"q"}`

	adder := NewPaperAdder(stub, recov, DefaultPaperAdderConfig())
	result, err := adder.Add(context.Background(), "topic", nil, tbl, testExperts(1))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(result.AddedDocumentIDs) != 0 {
		t.Fatalf("expected no documents added since doc1 is already in the table, got %v", result.AddedDocumentIDs)
	}
}

func TestDedupAndCapFeatures_AsksModelAndCapsResult(t *testing.T) {
	stub := jsonmodel.NewStub(`{}`)
	stub.Responses["feature_dedup"] = `{"new_features":["method","dataset","metric"]}`
	cfg := DefaultPaperAdderConfig()
	cfg.NewFeaturesKeptAfterDedup = 1
	adder := NewPaperAdder(stub, stubRecoverer{}, cfg)

	proposals := []string{"method", "dataset", "method", "metric"}
	out := adder.dedupAndCapFeatures(context.Background(), proposals, nil)
	if len(out) != 1 || out[0] != "method" {
		t.Fatalf("expected capped result ['method'], got %v", out)
	}
}

func TestDedupAndCapFeatures_NoProposalsSkipsModelCall(t *testing.T) {
	stub := jsonmodel.NewStub(`{}`)
	adder := NewPaperAdder(stub, stubRecoverer{}, DefaultPaperAdderConfig())

	out := adder.dedupAndCapFeatures(context.Background(), nil, nil)
	if out != nil {
		t.Fatalf("expected no proposals, got %v", out)
	}
	if stub.Calls != 0 {
		t.Fatalf("expected no model call with no proposals, got %d calls", stub.Calls)
	}
}

func TestConsolidateValue_SingleCandidateSkipsModelCall(t *testing.T) {
	stub := jsonmodel.NewStub(`{}`)
	adder := NewPaperAdder(stub, stubRecoverer{}, DefaultPaperAdderConfig())

	doc := kg.Document{ID: "doc1", Title: "A Paper"}
	if v := adder.consolidateValue(context.Background(), doc, "method", []string{sotatable.NotAvailable, "x"}); v != "x" {
		t.Fatalf("expected sole candidate 'x', got %q", v)
	}
	if v := adder.consolidateValue(context.Background(), doc, "method", nil); v != sotatable.NotAvailable {
		t.Fatalf("expected NotAvailable for no values, got %q", v)
	}
	if stub.Calls != 0 {
		t.Fatalf("expected no model call with at most one distinct candidate, got %d calls", stub.Calls)
	}
}

func TestConsolidateValue_MultipleCandidatesAsksModel(t *testing.T) {
	stub := jsonmodel.NewStub(`{}`)
	stub.Responses["value_consolidation"] = `{"value":"merged value"}`
	adder := NewPaperAdder(stub, stubRecoverer{}, DefaultPaperAdderConfig())

	doc := kg.Document{ID: "doc1", Title: "A Paper"}
	if v := adder.consolidateValue(context.Background(), doc, "method", []string{"x", "y"}); v != "merged value" {
		t.Fatalf("expected model-consolidated value, got %q", v)
	}
	if stub.Calls != 1 {
		t.Fatalf("expected exactly one model call, got %d", stub.Calls)
	}
}
