package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/primehq/prime/internal/optimizer"
	"github.com/primehq/prime/pkg/models"
)

// MaxTurns is the hard cap on tool-calling iterations per run.
const MaxTurns = 12

// maxTurnsMessage is returned as the final text when the loop exhausts
// its turn budget without a final answer from the model.
const maxTurnsMessage = "Reached maximum tool-use iterations."

// Runner drives the iterative tool-calling loop over a Provider.
//
// Each run is one of two shapes. With tools enabled the runner uses the
// structured completion mode: send the transcript, execute any
// requested tools, append the assistant tool-call turn plus one tool
// result per call, and repeat up to MaxTurns. Without tools the runner
// uses the streaming mode and relays tokens through the request's
// OnToken callback.
type Runner struct {
	provider Provider
	executor *Executor
	logger   *slog.Logger
}

// NewRunner creates a runner. The executor may be nil for providers
// used only in streaming mode.
func NewRunner(provider Provider, executor *Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		provider: provider,
		executor: executor,
		logger:   logger.With("component", "agent_runner"),
	}
}

// RunRequest is one agent invocation.
type RunRequest struct {
	// Model and System are passed through to the provider.
	Model  string
	System string

	// Messages is the conversation so far, ending with the user turn.
	Messages []CompletionMessage

	// MaxTokens bounds each provider response.
	MaxTokens int

	// ToolsEnabled exposes the executor's registry to the model and
	// forces the structured mode.
	ToolsEnabled bool

	// Workspace, SessionID, and AgentID are threaded into tool calls.
	Workspace string
	SessionID string
	AgentID   string

	// OnToken receives text fragments in streaming mode. Ignored when
	// tools are enabled.
	OnToken func(string)

	// OnToolCall is notified before each tool invocation in structured
	// mode, letting callers surface progress while the loop works.
	OnToolCall func(name string, input json.RawMessage)
}

// RunResult is the outcome of a run: final text, the model that served
// it, and token usage accumulated across every turn.
type RunResult struct {
	Text      string
	Model     string
	Usage     models.Usage
	Turns     int
	ToolCalls int
}

// Run executes the loop. Provider failures are returned as *ProviderError
// and abort the run; individual tool failures are fed back to the model
// as that tool's result and do not.
func (r *Runner) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	if r.provider == nil {
		return nil, ErrNoProvider
	}
	if req == nil {
		return nil, errors.New("agent: nil run request")
	}

	if !req.ToolsEnabled || r.executor == nil {
		return r.runStreaming(ctx, req)
	}
	return r.runStructured(ctx, req)
}

func (r *Runner) runStreaming(ctx context.Context, req *RunRequest) (*RunResult, error) {
	creq := &CompletionRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}

	var (
		resp *CompletionResponse
		err  error
	)
	if req.OnToken != nil {
		resp, err = r.provider.Stream(ctx, creq, req.OnToken)
	} else {
		resp, err = r.provider.Complete(ctx, creq)
	}
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		Text:  resp.Content,
		Model: r.resolveModel(resp, req.Model),
		Turns: 1,
	}
	result.Usage.Add(r.usageFor(resp, creq))
	return result, nil
}

func (r *Runner) runStructured(ctx context.Context, req *RunRequest) (*RunResult, error) {
	messages := make([]CompletionMessage, len(req.Messages))
	copy(messages, req.Messages)

	result := &RunResult{Model: req.Model}
	specs := r.executor.Registry().Specs()

	for turn := 0; turn < MaxTurns; turn++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		creq := &CompletionRequest{
			Model:     req.Model,
			System:    req.System,
			Messages:  messages,
			Tools:     specs,
			MaxTokens: req.MaxTokens,
		}
		resp, err := r.provider.Complete(ctx, creq)
		if err != nil {
			return nil, err
		}

		result.Turns = turn + 1
		result.Model = r.resolveModel(resp, req.Model)
		result.Usage.Add(r.usageFor(resp, creq))

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Content
			return result, nil
		}

		// Assistant turn with its tool calls, then one result per call.
		messages = append(messages, CompletionMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := make([]models.ToolResult, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			if req.OnToolCall != nil {
				req.OnToolCall(tc.Name, tc.Input)
			}
			out, isErr := r.executor.Execute(ctx, tc.Name, tc.Input, &ToolCall{
				Workspace: req.Workspace,
				SessionID: req.SessionID,
				AgentID:   req.AgentID,
			})
			result.ToolCalls++
			results = append(results, models.ToolResult{
				ToolCallID: tc.ID,
				Content:    out,
				IsError:    isErr,
			})
		}
		messages = append(messages, CompletionMessage{
			Role:        "tool",
			ToolResults: results,
		})
	}

	r.logger.Warn("run hit turn limit",
		"session_id", req.SessionID,
		"agent_id", req.AgentID,
		"turns", MaxTurns,
		"tool_calls", result.ToolCalls,
	)
	result.Text = maxTurnsMessage
	return result, nil
}

func (r *Runner) resolveModel(resp *CompletionResponse, fallback string) string {
	if resp.Model != "" {
		return resp.Model
	}
	return fallback
}

// usageFor returns provider-reported usage, falling back to the
// char-based estimator when the backend omits token counts.
func (r *Runner) usageFor(resp *CompletionResponse, req *CompletionRequest) models.Usage {
	usage := resp.Usage
	if usage.InputTokens == 0 {
		n := optimizer.EstimateTokens(req.System)
		for _, m := range req.Messages {
			n += optimizer.EstimateTokens(m.Content)
		}
		usage.InputTokens = n
	}
	if usage.OutputTokens == 0 && resp.Content != "" {
		usage.OutputTokens = optimizer.EstimateTokens(resp.Content)
	}
	return usage
}
