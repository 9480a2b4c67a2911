package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProvider is returned when a runner is used without a provider.
	ErrNoProvider = errors.New("agent: no provider configured")

	// ErrMaxTurns is returned when the tool-calling loop exhausts its
	// turn budget without the model producing a final answer.
	ErrMaxTurns = errors.New("agent: max tool-use turns reached")

	// ErrToolNotFound is returned when a tool call names a tool that is
	// neither registered nor resolvable through installed skills.
	ErrToolNotFound = errors.New("agent: tool not found")

	// ErrStreamWithTools is returned when Stream is called on a request
	// that carries tools.
	ErrStreamWithTools = errors.New("agent: streaming does not support tools")
)

// ProviderError wraps a transport or API failure from an LLM backend.
// Channels surface these to the user as a generic apology; the loop
// never retries them — the caller may retry the whole turn.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s: status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError, preserving the cause for
// errors.Is/As inspection.
func NewProviderError(provider, model string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Model: model, StatusCode: status, Err: err}
}
