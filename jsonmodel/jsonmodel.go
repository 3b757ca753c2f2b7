// Package jsonmodel implements the JsonModelClient port (§6): schema-
// constrained structured generation, with the retry/degrade policy from
// §7 (up to 3 attempts per call, then degrade to an empty/neutral
// instance of the requested shape). A configured API-key pool is stored
// but not used: every call goes through the provider's own key, and no
// key rotation is performed on quota or transport errors.
package jsonmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sotatable/sota/llm"
)

const maxSchemaRetries = 3

// FieldType names the JSON types a dynamically constructed schema field
// can take.
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldInt         FieldType = "integer"
	FieldFloat       FieldType = "number"
	FieldBool        FieldType = "boolean"
	FieldStringArray FieldType = "array<string>"
	FieldIntArray    FieldType = "array<integer>"
	// FieldObjectArray is an array of records whose shape is described in
	// the Field's Description rather than by further nesting (the schema
	// builder stays flat; GraphBuilder's extraction calls decode the
	// array into a concrete Go struct slice regardless of this tag).
	FieldObjectArray FieldType = "array<object>"
	// FieldObject is a single record whose shape is described in the
	// Field's Description. Used for per-expert maps (ActionPicker,
	// DocumentRemover, UserQuestioner, PaperAdder) where one field (e.g.
	// "votes") holds an object keyed by expert id whose values are each
	// one {reasoning, ...} record — the decode target for that field is a
	// Go map, so DisallowUnknownFields checks each value's shape but not
	// the key set itself.
	FieldObject FieldType = "object"
)

// Field describes one field of a dynamically constructed record schema
// (§9 "schema builder / schema DSL that constructs a record type at
// call time").
type Field struct {
	Name        string
	Type        FieldType
	Description string
}

// Schema is a record type built at call time from a set of Fields, used
// both for the fixed per-call response shapes (action votes, sufficiency
// checks) and for PaperAdder's column-parameterized feature extraction.
type Schema struct {
	Name   string
	Fields []Field
}

// NewSchema builds a Schema from field descriptors.
func NewSchema(name string, fields ...Field) Schema {
	return Schema{Name: name, Fields: fields}
}

// NewDynamicStringSchema builds a schema whose fields are the given
// column names, each typed as a free-text value (§4.10: the
// existing-features extraction schema is parameterized by the current
// SOTA column set).
func NewDynamicStringSchema(name string, columns []string) Schema {
	fields := make([]Field, len(columns))
	for i, c := range columns {
		fields[i] = Field{Name: c, Type: FieldString, Description: "value for column " + c}
	}
	return Schema{Name: name, Fields: fields}
}

// Prompt renders the schema as a structured-output instruction block to
// append to a model prompt. Implementations of Client are expected to
// additionally enforce JSON-only output at the transport level (e.g.
// response_format=json_object).
func (s Schema) Prompt() string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object named \"")
	b.WriteString(s.Name)
	b.WriteString("\" with exactly these fields (no others):\n")
	for _, f := range s.Fields {
		b.WriteString(fmt.Sprintf("- %q (%s): %s\n", f.Name, f.Type, f.Description))
	}
	return b.String()
}

// zeroValue returns a shape-valid but empty JSON object for this
// schema, used when the retry budget for a non-conforming response is
// exhausted (§7 Schema taxonomy).
func (s Schema) zeroValue() map[string]any {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		switch f.Type {
		case FieldInt, FieldFloat:
			out[f.Name] = 0
		case FieldBool:
			out[f.Name] = false
		case FieldStringArray, FieldIntArray, FieldObjectArray:
			out[f.Name] = []any{}
		case FieldObject:
			out[f.Name] = map[string]any{}
		default:
			out[f.Name] = ""
		}
	}
	return out
}

// Client is the JsonModelClient port: generate_json(prompt, schema) → T.
type Client interface {
	// GenerateJSON prompts the model for structured output conforming to
	// schema and decodes it into out (a pointer). On repeated
	// non-conformance it degrades out to the schema's zero value and
	// returns nil rather than propagating the error (§7: user-visible
	// surfaces never raise from model errors).
	GenerateJSON(ctx context.Context, prompt string, schema Schema, out any) error
}

// llmClient implements Client over an llm.Provider. keyPool and
// nextKeyIdx hold the configured API-key pool; no code path reads them.
type llmClient struct {
	provider   llm.Provider
	model      string
	inspect    bool
	keyPool    []string
	nextKeyIdx int
}

// Config configures an llm-backed Client.
type Config struct {
	Model string
	// Inspect logs every model call's prompt, and each accepted response,
	// at Info level (the -i/--inspect-query CLI flag, §6, §9); it does not
	// pause for user input. Threaded explicitly rather than read from a
	// global.
	Inspect bool
	// KeyPool is stored on the client but never read: calls always use
	// the provider's configured key, and quota errors do not rotate keys.
	KeyPool []string
}

// New wraps an llm.Provider as a Client.
func New(provider llm.Provider, cfg Config) Client {
	return &llmClient{provider: provider, model: cfg.Model, inspect: cfg.Inspect, keyPool: cfg.KeyPool}
}

func (c *llmClient) GenerateJSON(ctx context.Context, prompt string, schema Schema, out any) error {
	fullPrompt := prompt + "\n\n" + schema.Prompt()

	var lastErr error
	for attempt := 0; attempt < maxSchemaRetries; attempt++ {
		if c.inspect {
			slog.Info("jsonmodel: inspecting call", "schema", schema.Name, "attempt", attempt, "prompt", fullPrompt)
		}

		resp, err := c.provider.Chat(ctx, llm.ChatRequest{
			Model:          c.model,
			Messages:       []llm.Message{{Role: "user", Content: fullPrompt}},
			ResponseFormat: "json_object",
		})
		if err != nil {
			lastErr = err
			slog.Warn("jsonmodel: transport failure", "schema", schema.Name, "attempt", attempt, "error", err)
			continue
		}

		if err := strictUnmarshal(resp.Content, out); err != nil {
			lastErr = err
			slog.Warn("jsonmodel: schema non-conformance", "schema", schema.Name, "attempt", attempt, "error", err)
			continue
		}

		if c.inspect {
			slog.Info("jsonmodel: response", "schema", schema.Name, "content", resp.Content)
		}
		return nil
	}

	slog.Warn("jsonmodel: degrading to zero value after exhausted retries", "schema", schema.Name, "error", lastErr)
	zero, _ := json.Marshal(schema.zeroValue())
	_ = strictUnmarshal(string(zero), out)
	return nil
}

// strictUnmarshal decodes content into out, rejecting unknown fields
// per §9's "decoders accept unknown-field tolerance off".
func strictUnmarshal(content string, out any) error {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
