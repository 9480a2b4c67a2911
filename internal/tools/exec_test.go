package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCommandCapturesOutput(t *testing.T) {
	tool := &RunCommandTool{}
	out, err := tool.Execute(context.Background(), callWith(t.TempDir(), `{"command":"echo hello"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("output = %q", out)
	}
}

func TestRunCommandReportsExitCodeAndStderr(t *testing.T) {
	tool := &RunCommandTool{}
	out, err := tool.Execute(context.Background(), callWith(t.TempDir(), `{"command":"echo oops >&2; exit 3"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "stderr:\noops") {
		t.Errorf("output missing stderr section: %q", out)
	}
	if !strings.Contains(out, "exit code: 3") {
		t.Errorf("output missing exit code: %q", out)
	}
}

func TestRunCommandUsesWorkspaceDir(t *testing.T) {
	ws := t.TempDir()
	tool := &RunCommandTool{}
	out, err := tool.Execute(context.Background(), callWith(ws, `{"command":"pwd"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// macOS reports /private-prefixed temp dirs from pwd.
	if !strings.Contains(strings.TrimSpace(out), strings.TrimPrefix(ws, "/private")) {
		t.Errorf("pwd = %q, want workspace %q", out, ws)
	}
}

func TestRunCommandTimesOut(t *testing.T) {
	tool := &RunCommandTool{Timeout: 50 * time.Millisecond}
	_, err := tool.Execute(context.Background(), callWith(t.TempDir(), `{"command":"sleep 5"}`))
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestRunCommandRequiresCommand(t *testing.T) {
	tool := &RunCommandTool{}
	if _, err := tool.Execute(context.Background(), callWith(t.TempDir(), `{"command":"  "}`)); err == nil {
		t.Error("expected error for blank command")
	}
}

func TestRunCommandNoOutput(t *testing.T) {
	tool := &RunCommandTool{}
	out, err := tool.Execute(context.Background(), callWith(t.TempDir(), `{"command":"true"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "(no output)" {
		t.Errorf("output = %q", out)
	}
}
