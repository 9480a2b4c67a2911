// Package providers implements LLM backends for the agent runner.
//
// Two wire families cover every configured vendor: the Anthropic
// Messages API (AnthropicProvider) and the OpenAI chat-completions API
// (OpenAIProvider), which also serves DeepSeek, Gemini, Kimi, Mistral,
// GLM, Qwen, and Ollama through their OpenAI-compatible endpoints.
// Each provider handles format conversion, retries with backoff for
// transient failures, and usage extraction.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/primehq/prime/internal/agent"
	"github.com/primehq/prime/pkg/models"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 4096
	defaultMaxRetries     = 3
	defaultRetryDelay     = time.Second
)

// AnthropicProvider implements agent.Provider over the Anthropic
// Messages API. Structured completions use a single non-streaming
// request so tool calls arrive whole; text-only streaming consumes the
// SSE event stream and relays text deltas through the token callback.
//
// Safe for concurrent use; every call is an independent request.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider. APIKey is required;
// everything else has working defaults.
type AnthropicConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and gateways.
	BaseURL string

	// MaxRetries bounds retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff delay, doubled per attempt. Default 1s.
	RetryDelay time.Duration

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewAnthropicProvider validates the config, applies defaults, and
// builds the SDK client.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends a structured, non-streaming request and returns the
// full response including tool calls and usage.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	model := p.getModel(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	err = p.withRetries(ctx, model, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	resp := &agent.CompletionResponse{
		Model:      model,
		StopReason: normalizeStopReason(string(msg.StopReason)),
		Usage: models.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    toolUse.ID,
				Name:  toolUse.Name,
				Input: json.RawMessage(toolUse.JSON.Input.Raw()),
			})
		}
	}
	resp.Content = text.String()
	return resp, nil
}

// Stream sends a text-only streaming request, relaying text deltas to
// onToken, and returns the assembled final response.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.CompletionRequest, onToken func(string)) (*agent.CompletionResponse, error) {
	if len(req.Tools) > 0 {
		return nil, agent.ErrStreamWithTools
	}
	model := p.getModel(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	resp := &agent.CompletionResponse{Model: model, StopReason: agent.StopEndTurn}
	var text strings.Builder

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				resp.Usage.InputTokens = int(start.Message.Usage.InputTokens)
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				text.WriteString(delta.Text)
				if onToken != nil {
					onToken(delta.Text)
				}
			}
		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				resp.Usage.OutputTokens = int(md.Usage.OutputTokens)
			}
			if md.Delta.StopReason != "" {
				resp.StopReason = normalizeStopReason(string(md.Delta.StopReason))
			}
		case "error":
			return nil, p.wrapError(errors.New("stream error"), model)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, p.wrapError(err, model)
	}

	resp.Content = text.String()
	return resp, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// convertAnthropicMessages flattens the neutral transcript into
// Anthropic content blocks. System turns are handled outside Messages;
// tool-result turns become user messages carrying tool_result blocks.
func convertAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("anthropic: invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// User and tool roles both map to user messages.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []agent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

// withRetries runs call with exponential backoff on transient errors.
func (p *AnthropicProvider) withRetries(ctx context.Context, model string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		wrapped := p.wrapError(lastErr, model)
		if !isRetryable(wrapped) {
			return wrapped
		}
		lastErr = wrapped
	}
	return fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var perr *agent.ProviderError
	if errors.As(err, &perr) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return agent.NewProviderError("anthropic", model, apiErr.StatusCode, err)
	}
	return agent.NewProviderError("anthropic", model, 0, err)
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return agent.StopToolUse
	case "max_tokens", "length":
		return agent.StopMaxTokens
	default:
		return agent.StopEndTurn
	}
}
