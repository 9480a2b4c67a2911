package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/primehq/prime/internal/agent"
	"github.com/primehq/prime/pkg/models"
)

// OpenAIProvider implements agent.Provider over the OpenAI
// chat-completions API. With a custom base URL the same implementation
// serves every OpenAI-compatible vendor in the catalog: DeepSeek, Kimi,
// Mistral, GLM, Qwen, Gemini's compatibility endpoint, and Ollama.
//
// Key differences from the Anthropic wire format:
//   - The system prompt is the first element of the messages array.
//   - Tool results are separate role:"tool" messages, one per call.
//   - Tool call arguments arrive as a JSON string, not an object.
//
// Safe for concurrent use.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey string

	// BaseURL points the client at an OpenAI-compatible endpoint.
	// Empty means api.openai.com.
	BaseURL string

	// Name overrides the provider identifier, so a DeepSeek-backed
	// instance reports "deepseek" in logs and cost lookups. Default
	// "openai".
	Name string

	// MaxRetries bounds retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base delay between attempts, linear backoff.
	// Default 1s.
	RetryDelay time.Duration

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewOpenAIProvider builds a provider for any OpenAI-compatible API.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" && config.BaseURL == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.Name == "" {
		config.Name = "openai"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}

	clientCfg := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		name:         config.Name,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the configured provider identifier.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete sends a structured, non-streaming request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	model := p.getModel(req.Model)
	chatReq := p.buildRequest(req, model, false)

	var resp openai.ChatCompletionResponse
	err := p.withRetries(ctx, model, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, agent.NewProviderError(p.name, model, 0, errors.New("empty response"))
	}

	choice := resp.Choices[0]
	out := &agent.CompletionResponse{
		Content: choice.Message.Content,
		Model:   model,
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		StopReason: normalizeOpenAIFinish(string(choice.FinishReason)),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream sends a text-only streaming request, relaying deltas to
// onToken, and returns the assembled final response.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.CompletionRequest, onToken func(string)) (*agent.CompletionResponse, error) {
	if len(req.Tools) > 0 {
		return nil, agent.ErrStreamWithTools
	}
	model := p.getModel(req.Model)
	chatReq := p.buildRequest(req, model, true)

	var stream *openai.ChatCompletionStream
	err := p.withRetries(ctx, model, func() error {
		var callErr error
		stream, callErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	resp := &agent.CompletionResponse{Model: model, StopReason: agent.StopEndTurn}
	var text strings.Builder

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, agent.NewProviderError(p.name, model, httpStatusOf(err), err)
		}
		if chunk.Usage != nil {
			resp.Usage.InputTokens = chunk.Usage.PromptTokens
			resp.Usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if onToken != nil {
				onToken(choice.Delta.Content)
			}
		}
		if choice.FinishReason != "" {
			resp.StopReason = normalizeOpenAIFinish(string(choice.FinishReason))
		}
	}

	resp.Content = text.String()
	return resp, nil
}

func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest, model string, stream bool) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   stream,
	}
	if stream {
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}
	return chatReq
}

// convertOpenAIMessages renders the neutral transcript in OpenAI shape:
// system first, tool results as one role:"tool" message per call.
func convertOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, m)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertOpenAITools(tools []agent.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		})
	}
	return result
}

// withRetries runs call with linear backoff on transient errors.
func (p *OpenAIProvider) withRetries(ctx context.Context, model string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		wrapped := agent.NewProviderError(p.name, model, httpStatusOf(lastErr), lastErr)
		if !isRetryable(wrapped) {
			return wrapped
		}
		lastErr = wrapped
	}
	return fmt.Errorf("%s: max retries exceeded: %w", p.name, lastErr)
}

func httpStatusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func (p *OpenAIProvider) getModel(model string) string {
	if model != "" {
		return model
	}
	return p.defaultModel
}

func normalizeOpenAIFinish(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return agent.StopToolUse
	case "length":
		return agent.StopMaxTokens
	default:
		return agent.StopEndTurn
	}
}
