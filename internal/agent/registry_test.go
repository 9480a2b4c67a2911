package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type editTool struct{ blockStreaming bool }

func (t *editTool) Name() string        { return "edit_file" }
func (t *editTool) Description() string { return "replaces exact text in a file" }
func (t *editTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"old_text": {"type": "string"},
			"new_text": {"type": "string"}
		},
		"required": ["path", "old_text", "new_text"]
	}`)
}
func (t *editTool) Execute(_ context.Context, call *ToolCall) (string, error) {
	return string(call.Args), nil
}
func (t *editTool) DisablesStreaming() bool { return t.blockStreaming }

func TestNormalizeArgsCamelCaseAliases(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&editTool{})

	out, err := reg.NormalizeArgs("edit_file", json.RawMessage(
		`{"path":"a.txt","oldText":"foo","newText":"bar"}`))
	if err != nil {
		t.Fatal(err)
	}
	var obj map[string]any
	if err := json.Unmarshal(out, &obj); err != nil {
		t.Fatal(err)
	}
	if obj["old_text"] != "foo" || obj["new_text"] != "bar" {
		t.Fatalf("aliases not normalized: %v", obj)
	}
	if _, leaked := obj["oldText"]; leaked {
		t.Fatal("camelCase key survived normalization")
	}
}

func TestNormalizeArgsRejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&editTool{})

	// Missing required new_text.
	if _, err := reg.NormalizeArgs("edit_file", json.RawMessage(`{"path":"a","old_text":"b"}`)); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := reg.NormalizeArgs("edit_file", json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected JSON error")
	}
	if _, err := reg.NormalizeArgs("missing", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected unknown tool error")
	}
}

func TestSpecsDeterministicAndDualShape(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&editTool{})
	reg.MustRegister(&echoTool{name: "echo"})

	specs := reg.Specs()
	if len(specs) != 2 || specs[0].Name != "echo" || specs[1].Name != "edit_file" {
		t.Fatalf("specs = %+v", specs)
	}

	fn := specs[1].OpenAIFunction()
	if fn["type"] != "function" {
		t.Fatalf("openai shape = %v", fn)
	}
	at := specs[1].AnthropicTool()
	if at["name"] != "edit_file" {
		t.Fatalf("anthropic shape = %v", at)
	}
	if _, ok := at["input_schema"]; !ok {
		t.Fatal("anthropic shape missing input_schema")
	}
	// Both shapes must derive from the same schema bytes.
	raw, _ := json.Marshal(fn)
	if !strings.Contains(string(raw), "old_text") {
		t.Fatal("openai shape lost schema properties")
	}
}

func TestStreamingAllowed(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&echoTool{name: "echo"})
	if !reg.StreamingAllowed() {
		t.Fatal("plain tools should not block streaming")
	}
	reg.MustRegister(&editTool{blockStreaming: true})
	if reg.StreamingAllowed() {
		t.Fatal("stream-blocking tool ignored")
	}
}

func TestCaseConversion(t *testing.T) {
	if got := toSnakeCase("oldText"); got != "old_text" {
		t.Fatalf("toSnakeCase = %q", got)
	}
	if got := toCamelCase("old_text"); got != "oldText" {
		t.Fatalf("toCamelCase = %q", got)
	}
	if got := toSnakeCase("path"); got != "path" {
		t.Fatalf("toSnakeCase(path) = %q", got)
	}
}
