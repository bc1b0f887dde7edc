package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestToolRegistry_RegisterAndGet(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{name: "alpha"})
	registry.Register(&mockTool{name: "beta"})

	if registry.Len() != 2 {
		t.Errorf("Len() = %d, want 2", registry.Len())
	}
	if _, ok := registry.Get("alpha"); !ok {
		t.Error("Get(alpha) not found")
	}
	if _, ok := registry.Get("gamma"); ok {
		t.Error("Get(gamma) found, want missing")
	}
}

func TestToolRegistry_ValidateInput(t *testing.T) {
	registry := NewToolRegistry(&mockTool{
		name: "typed",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {"amount": {"type": "number"}},
			"required": ["amount"]
		}`),
	})

	if err := registry.ValidateInput("typed", json.RawMessage(`{"amount": 5}`)); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}
	if err := registry.ValidateInput("typed", json.RawMessage(`{}`)); err == nil {
		t.Error("missing required field accepted")
	}
	if err := registry.ValidateInput("typed", json.RawMessage(`not json`)); err == nil {
		t.Error("malformed JSON accepted")
	}
	// No schema means any input is accepted.
	registry.Register(&mockTool{name: "untyped"})
	if err := registry.ValidateInput("untyped", json.RawMessage(`"anything"`)); err != nil {
		t.Errorf("schemaless tool rejected input: %v", err)
	}

	// Omitted arguments validate like an empty object.
	registry.Register(&mockTool{name: "noargs", schema: json.RawMessage(`{"type":"object"}`)})
	if err := registry.ValidateInput("noargs", nil); err != nil {
		t.Errorf("nil params rejected for no-arg tool: %v", err)
	}
	if err := registry.ValidateInput("typed", nil); err == nil {
		t.Error("nil params accepted despite required field")
	}
}

func TestToolRegistry_ExecuteInvalidInput(t *testing.T) {
	registry := NewToolRegistry(&mockTool{
		name: "typed",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {"q": {"type": "string"}},
			"required": ["q"]
		}`),
	})

	result, err := registry.Execute(context.Background(), "typed", json.RawMessage(`{"q": 42}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("invalid arguments should produce an error result")
	}
	if !strings.Contains(result.Content, "invalid") {
		t.Errorf("content = %q, want validation message", result.Content)
	}
}

func TestToolRegistry_ExecuteNotFound(t *testing.T) {
	registry := NewToolRegistry()
	result, err := registry.Execute(context.Background(), "missing", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("missing tool should produce an error result")
	}
	if !strings.Contains(result.Content, "tool not found") {
		t.Errorf("content = %q, want not-found text", result.Content)
	}
}

func TestToolRegistry_Schemas(t *testing.T) {
	registry := NewToolRegistry(
		&mockTool{name: "a", description: "first", schema: json.RawMessage(`{"type":"object"}`)},
		&mockTool{name: "b", description: "second"},
	)

	schemas := registry.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("len(schemas) = %d, want 2", len(schemas))
	}
	byName := make(map[string]ToolSchema)
	for _, s := range schemas {
		byName[s.Name] = s
	}
	if byName["a"].Description != "first" {
		t.Errorf("schema a description = %q, want %q", byName["a"].Description, "first")
	}
	if len(byName["b"].InputSchema) != 0 {
		t.Errorf("schema b input = %s, want empty", byName["b"].InputSchema)
	}
}
