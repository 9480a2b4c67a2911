package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type failingTool struct{}

func (t *failingTool) Name() string            { return "flaky" }
func (t *failingTool) Description() string     { return "always fails" }
func (t *failingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *failingTool) Execute(context.Context, *ToolCall) (string, error) {
	return "", errors.New("backend unavailable")
}

type slowTool struct{}

func (t *slowTool) Name() string            { return "slow" }
func (t *slowTool) Description() string     { return "sleeps past the deadline" }
func (t *slowTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *slowTool) Execute(ctx context.Context, _ *ToolCall) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type skillSet struct{ tools map[string]Tool }

func (s *skillSet) Resolve(name string) (Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

func TestExecuteUnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry())
	out, isErr := e.Execute(context.Background(), "nope", nil, nil)
	if !isErr || !strings.Contains(out, "unknown tool") {
		t.Fatalf("out=%q isErr=%v", out, isErr)
	}
}

func TestExecuteSkillFallback(t *testing.T) {
	skills := &skillSet{tools: map[string]Tool{"echo": &echoTool{name: "echo"}}}
	e := NewExecutor(NewRegistry(), WithSkills(skills))

	out, isErr := e.Execute(context.Background(), "echo",
		json.RawMessage(`{"text":"hi"}`), &ToolCall{SessionID: "s1"})
	if isErr {
		t.Fatalf("unexpected error result: %q", out)
	}
	if out != "echo: hi" {
		t.Fatalf("out = %q", out)
	}
}

func TestExecuteStringifiesToolError(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&failingTool{})
	e := NewExecutor(reg)

	out, isErr := e.Execute(context.Background(), "flaky", json.RawMessage(`{}`), nil)
	if !isErr {
		t.Fatal("expected error result")
	}
	if !strings.Contains(out, "backend unavailable") {
		t.Fatalf("out = %q", out)
	}
}

func TestExecuteTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&slowTool{})
	e := NewExecutor(reg, WithToolTimeout(20*time.Millisecond))

	out, isErr := e.Execute(context.Background(), "slow", json.RawMessage(`{}`), nil)
	if !isErr || !strings.Contains(out, "timed out") {
		t.Fatalf("out=%q isErr=%v", out, isErr)
	}
}

func TestExecuteInvalidArgs(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&editTool{})
	e := NewExecutor(reg)

	out, isErr := e.Execute(context.Background(), "edit_file", json.RawMessage(`{"path":1}`), nil)
	if !isErr || !strings.Contains(out, "invalid arguments") {
		t.Fatalf("out=%q isErr=%v", out, isErr)
	}
}
