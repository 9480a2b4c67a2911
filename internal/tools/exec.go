package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/primehq/prime/internal/agent"
)

const (
	// DefaultCommandTimeout bounds a single run_command execution.
	DefaultCommandTimeout = 30 * time.Second

	// maxCommandOutput caps combined stdout+stderr returned to the model.
	maxCommandOutput = 100000
)

// CommandRunner executes a command line inside a workspace. The
// subprocess runner is the default; node sandboxes provide isolated
// implementations.
type CommandRunner interface {
	RunCommand(ctx context.Context, workspace, command string) (stdout, stderr string, exitCode int, err error)
}

// SubprocessRunner runs commands as plain child processes via the
// shell, working directory pinned to the workspace.
type SubprocessRunner struct{}

// RunCommand implements CommandRunner.
func (SubprocessRunner) RunCommand(ctx context.Context, workspace, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if strings.TrimSpace(workspace) != "" {
		cmd.Dir = workspace
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		err = nil
	}
	return stdout.String(), stderr.String(), exitCode, err
}

// RunCommandTool executes a command in the call's workspace through
// the configured runner.
type RunCommandTool struct {
	Runner  CommandRunner
	Timeout time.Duration
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Run a shell command in the workspace and return its output and exit code."
}

func (t *RunCommandTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Command line to execute."}
		},
		"required": ["command"]
	}`)
}

// DisablesStreaming forces the structured completion mode: command
// side effects must not interleave with partial model output.
func (t *RunCommandTool) DisablesStreaming() bool { return true }

func (t *RunCommandTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Command) == "" {
		return "", fmt.Errorf("command is required")
	}

	runner := t.Runner
	if runner == nil {
		runner = SubprocessRunner{}
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := runner.RunCommand(runCtx, call.Workspace, in.Command)
	// A killed subprocess reports exit status -1, not an error, so
	// the context has to be checked first.
	if runCtx.Err() != nil {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}
	if err != nil {
		return "", fmt.Errorf("run command: %w", err)
	}

	var b strings.Builder
	if stdout != "" {
		b.WriteString(stdout)
	}
	if stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n")
		b.WriteString(stderr)
	}
	if exitCode != 0 {
		fmt.Fprintf(&b, "\nexit code: %d", exitCode)
	}
	out := b.String()
	if out == "" {
		out = "(no output)"
	}
	if len(out) > maxCommandOutput {
		out = out[:maxCommandOutput] + "\n[truncated]"
	}
	return out, nil
}
