package jsonmodel

import (
	"context"
	"encoding/json"
)

// StubClient is a deterministic Client for tests: it returns a fixed
// response for every call, optionally varied per schema name, and
// counts invocations. It never touches a model provider, matching the
// stubbed-model scenarios in §8 (E2, E4, E6).
type StubClient struct {
	// Responses maps a schema name to the JSON it should return. If a
	// schema name is absent, Default is used.
	Responses map[string]string
	Default   string

	Calls int
}

// NewStub returns a StubClient with the given default JSON response.
func NewStub(defaultJSON string) *StubClient {
	return &StubClient{Default: defaultJSON, Responses: make(map[string]string)}
}

func (s *StubClient) GenerateJSON(_ context.Context, _ string, schema Schema, out any) error {
	s.Calls++
	body := s.Default
	if r, ok := s.Responses[schema.Name]; ok {
		body = r
	}
	if body == "" {
		zero, _ := json.Marshal(schema.zeroValue())
		body = string(zero)
	}
	return json.Unmarshal([]byte(body), out)
}
