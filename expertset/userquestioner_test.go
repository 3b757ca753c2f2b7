package expertset

import (
	"context"
	"strings"
	"testing"

	"github.com/sotatable/sota/chunker"
	"github.com/sotatable/sota/jsonmodel"
)

func TestUserQuestioner_Ask_ConcatenatesQuestionsAndQueriesOnce(t *testing.T) {
	stub := jsonmodel.NewStub(`{"questions":{}}`)
	stub.Responses["expert_questions"] = `{"questions":{
		"expert_0":{"reasoning":"ambiguous scope","has_question":true,"question":"Should we include pre-2020 papers?"},
		"expert_1":{"reasoning":"nothing to ask","has_question":false,"question":""}
	}}`
	user := &stubUserAPI{answer: "Yes, include them."}

	q := NewUserQuestioner(stub, user, stubRecoverer{}, fakeEmbedder{dim: 8}, chunker.Config{MaxTokens: 500}, 3)
	result, err := q.Ask(context.Background(), "topic", nil, testExperts(2))
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(result.CombinedQuestion, "pre-2020") {
		t.Fatalf("expected combined question to include expert_0's question, got %q", result.CombinedQuestion)
	}
	if strings.Count(result.CombinedQuestion, "\n") != 1 {
		t.Fatalf("expected exactly one question line, got %q", result.CombinedQuestion)
	}
	if len(user.asked) != 1 {
		t.Fatalf("expected the user to be queried exactly once, got %d", len(user.asked))
	}
	if result.Answer != "Yes, include them." {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
}

func TestUserQuestioner_Ask_NoQuestionsSkipsUser(t *testing.T) {
	stub := jsonmodel.NewStub(`{"questions":{"expert_0":{"reasoning":"fine","has_question":false,"question":""}}}`)
	user := &stubUserAPI{answer: "should not be used"}

	q := NewUserQuestioner(stub, user, stubRecoverer{}, fakeEmbedder{dim: 8}, chunker.Config{MaxTokens: 500}, 3)
	result, err := q.Ask(context.Background(), "topic", nil, testExperts(1))
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.CombinedQuestion != "" {
		t.Fatalf("expected no combined question, got %q", result.CombinedQuestion)
	}
	if len(user.asked) != 0 {
		t.Fatalf("expected the user not to be queried, got %v", user.asked)
	}
}
