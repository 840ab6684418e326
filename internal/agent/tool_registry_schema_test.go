package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type schemaTool struct {
	name   string
	schema string
	called bool
}

func (t *schemaTool) Name() string            { return t.name }
func (t *schemaTool) Description() string     { return "schema test tool" }
func (t *schemaTool) Schema() json.RawMessage { return json.RawMessage(t.schema) }
func (t *schemaTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.called = true
	return &ToolResult{Content: "ok"}, nil
}

func TestRegistryValidatesArgumentsAgainstSchema(t *testing.T) {
	registry := NewToolRegistry()
	tool := &schemaTool{
		name:   "strict",
		schema: `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
	}
	registry.Register(tool)

	// missing required property rejected before Execute
	result, err := registry.Execute(context.Background(), "strict", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(result.Content, "schema validation") {
		t.Fatalf("expected validation failure, got %+v", result)
	}
	if tool.called {
		t.Fatal("tool must not run on invalid arguments")
	}

	// wrong type rejected
	result, err = registry.Execute(context.Background(), "strict", json.RawMessage(`{"path":42}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatalf("expected type failure, got %+v", result)
	}

	// valid arguments pass through
	result, err = registry.Execute(context.Background(), "strict", json.RawMessage(`{"path":"a.txt"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError || !tool.called {
		t.Fatalf("expected execution, got %+v (called=%v)", result, tool.called)
	}
}

func TestRegistryRejectsMalformedJSONArguments(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&schemaTool{name: "t", schema: `{"type":"object"}`})

	result, err := registry.Execute(context.Background(), "t", json.RawMessage(`{not json`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(result.Content, "invalid JSON") {
		t.Fatalf("expected JSON failure, got %+v", result)
	}
}

func TestRegistrySurfacesBrokenSchemaAtCallTime(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&schemaTool{name: "broken", schema: `{"type": 12}`})

	result, err := registry.Execute(context.Background(), "broken", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(result.Content, "invalid schema") {
		t.Fatalf("expected schema error surfaced, got %+v", result)
	}
}
