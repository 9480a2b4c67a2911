package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 60 * time.Second

// SkillResolver resolves tool names that are not in the static
// registry against installed skills. Resolve returns false when no
// skill provides the name.
type SkillResolver interface {
	Resolve(name string) (Tool, bool)
}

// Executor dispatches tool calls: normalize arguments, look up the
// backend (registry first, then installed skills), run it under a
// timeout, and stringify the outcome. A failed execution is reported
// as an error-flagged string result rather than aborting the caller's
// loop — the model may recover from it.
type Executor struct {
	registry *Registry
	skills   SkillResolver
	logger   *slog.Logger
	timeout  time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSkills attaches a skill resolver consulted for unknown tools.
func WithSkills(s SkillResolver) ExecutorOption {
	return func(e *Executor) { e.skills = s }
}

// WithToolTimeout overrides the per-call execution timeout.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		logger:   slog.Default(),
		timeout:  DefaultToolTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "tool_executor")
	return e
}

// Registry returns the executor's tool registry.
func (e *Executor) Registry() *Registry { return e.registry }

// Execute runs one tool call and returns its stringified output.
// isError marks results the model should treat as failures: unknown
// tools, invalid arguments, timeouts, and tool-reported errors.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage, call *ToolCall) (result string, isError bool) {
	if call == nil {
		call = &ToolCall{}
	}

	tool, registered := e.registry.Get(name)
	if !registered && e.skills != nil {
		tool, registered = e.skills.Resolve(name)
	}
	if !registered {
		return "unknown tool: " + name, true
	}

	normalized := args
	if _, inRegistry := e.registry.Get(name); inRegistry {
		var err error
		normalized, err = e.registry.NormalizeArgs(name, args)
		if err != nil {
			return err.Error(), true
		}
	} else if len(normalized) == 0 {
		normalized = json.RawMessage(`{}`)
	}
	call.Args = normalized

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	out, err := tool.Execute(execCtx, call)
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Warn("tool execution failed",
			"tool", name,
			"session_id", call.SessionID,
			"duration", elapsed,
			"error", err,
		)
		if execCtx.Err() != nil {
			return fmt.Sprintf("tool %s timed out after %s", name, e.timeout), true
		}
		return fmt.Sprintf("tool %s failed: %v", name, err), true
	}

	e.logger.Debug("tool executed",
		"tool", name,
		"session_id", call.SessionID,
		"duration", elapsed,
		"output_bytes", len(out),
	)
	return out, false
}
