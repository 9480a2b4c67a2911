package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/primehq/prime/internal/agent"
	"github.com/primehq/prime/pkg/models"
)

// ShellProvider pipes the rendered prompt to an external command and
// reads the reply from stdout. It exists for wiring local model CLIs
// into the same runner as API-backed providers. Tool calling is not
// supported; usage is always estimated by the caller.
type ShellProvider struct {
	command string
	args    []string
}

// NewShellProvider builds a provider around a command line. The prompt
// is written to the command's stdin.
func NewShellProvider(command string, args ...string) (*ShellProvider, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("shell: command is required")
	}
	return &ShellProvider{command: command, args: args}, nil
}

// Name returns "shell".
func (p *ShellProvider) Name() string { return "shell" }

// Complete renders the transcript as plain text, runs the command, and
// returns stdout as the assistant reply.
func (p *ShellProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	if len(req.Tools) > 0 {
		return nil, agent.NewProviderError("shell", req.Model, 0, errors.New("tool calling not supported"))
	}

	var prompt strings.Builder
	if req.System != "" {
		prompt.WriteString(req.System)
		prompt.WriteString("\n\n")
	}
	for _, msg := range req.Messages {
		fmt.Fprintf(&prompt, "%s: %s\n", msg.Role, msg.Content)
	}

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Stdin = strings.NewReader(prompt.String())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, agent.NewProviderError("shell", req.Model, 0,
			fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}

	return &agent.CompletionResponse{
		Content:    strings.TrimSpace(stdout.String()),
		Model:      req.Model,
		StopReason: agent.StopEndTurn,
		Usage:      models.Usage{},
	}, nil
}

// Stream runs Complete and emits the whole reply as one token. Shell
// commands have no incremental output contract.
func (p *ShellProvider) Stream(ctx context.Context, req *agent.CompletionRequest, onToken func(string)) (*agent.CompletionResponse, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if onToken != nil && resp.Content != "" {
		onToken(resp.Content)
	}
	return resp, nil
}
