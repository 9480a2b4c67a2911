package agent

import (
	"context"
	"encoding/json"

	"github.com/primehq/prime/pkg/models"
)

// Provider is the uniform interface over LLM backends.
//
// Implementations present two modes. Complete returns a full structured
// response and is the only mode that supports tool calling, because a
// tool-use turn cannot be acted on until the whole payload has arrived.
// Stream emits text tokens through a callback and is used when the
// request carries no tools.
//
// Implementations must be safe for concurrent use; multiple goroutines
// may call Complete simultaneously for different sessions.
type Provider interface {
	// Name returns the stable lowercase provider identifier ("openai",
	// "anthropic", ...) used for routing, logging, and cost lookup.
	Name() string

	// Complete sends a structured request and blocks until the full
	// response, including any tool calls and usage, is available.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream sends a text-only request, invoking onToken for each text
	// fragment as it arrives, and returns the final response. Requests
	// with tools must use Complete instead.
	Stream(ctx context.Context, req *CompletionRequest, onToken func(string)) (*CompletionResponse, error)
}

// CompletionRequest carries one provider call: conversation history,
// system prompt, tool catalog, and generation limits.
type CompletionRequest struct {
	// Model is the provider-specific model identifier. Empty means the
	// provider's configured default.
	Model string `json:"model"`

	// System is the system prompt, handled outside Messages because most
	// APIs treat it as a separate parameter.
	System string `json:"system,omitempty"`

	// Messages is the conversation in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools lists the tools the model may call. Non-empty implies the
	// structured Complete mode.
	Tools []ToolSpec `json:"tools,omitempty"`

	// MaxTokens bounds the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature overrides sampling temperature when non-nil.
	Temperature *float64 `json:"temperature,omitempty"`
}

// CompletionMessage is a single turn in the request transcript. Role is
// one of "user", "assistant", or "tool". Assistant turns may carry tool
// calls; tool turns carry the matching results. Providers translate
// this shape into their own wire format (content blocks for Anthropic,
// role:"tool" messages for OpenAI-compatible APIs).
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// Stop reasons normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// CompletionResponse is the structured result of one provider call.
type CompletionResponse struct {
	// Content is the assistant text, possibly empty on pure tool-use turns.
	Content string `json:"content"`

	// ToolCalls are the tool invocations the model requested, in order.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// Usage reports token consumption for this call. Zero values mean the
	// provider did not report usage and the caller should estimate.
	Usage models.Usage `json:"usage"`

	// StopReason is the normalized stop reason (StopEndTurn, StopToolUse,
	// StopMaxTokens).
	StopReason string `json:"stop_reason"`

	// Model is the model that actually served the request.
	Model string `json:"model,omitempty"`
}

// ToolSpec is the provider-neutral description of one callable tool.
// Both wire shapes (OpenAI function-calling and Anthropic tool-use)
// derive from this single source so they stay in lock-step.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// OpenAIFunction renders the spec in OpenAI function-calling shape.
func (s ToolSpec) OpenAIFunction() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"parameters":  json.RawMessage(s.Schema),
		},
	}
}

// AnthropicTool renders the spec in Anthropic tool-use shape.
func (s ToolSpec) AnthropicTool() map[string]any {
	return map[string]any{
		"name":         s.Name,
		"description":  s.Description,
		"input_schema": json.RawMessage(s.Schema),
	}
}

// Tool is an executable agent tool. Execute receives already-validated,
// alias-normalized arguments and returns its output as a string; errors
// that the model could recover from should be returned as err and will
// be surfaced to the model as the tool's result text.
type Tool interface {
	// Name returns the function-calling name (alphanumeric, underscores).
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool.
	Execute(ctx context.Context, call *ToolCall) (string, error)
}

// ToolCall is the executor-side invocation context for a single call.
type ToolCall struct {
	// Args is the validated argument object.
	Args json.RawMessage

	// Workspace is the filesystem root this call is confined to. Tools
	// resolving relative paths must stay under it.
	Workspace string

	// SessionID and AgentID identify the calling conversation, when known.
	SessionID string
	AgentID   string
}

// StreamBlocker is implemented by tools whose presence forces the
// structured completion mode even for otherwise streamable requests,
// typically because their side effects must not interleave with
// partial output.
type StreamBlocker interface {
	DisablesStreaming() bool
}
