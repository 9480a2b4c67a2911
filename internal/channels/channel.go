// Package channels normalizes messenger traffic into one inbound
// flow. Each adapter owns its transport (long polling, Socket Mode,
// webhooks, WebSocket) and hands every message to the shared pipeline,
// which authorizes it, runs the agent, and posts the reply back.
package channels

import (
	"context"
	"sync"
	"time"

	"github.com/primehq/prime/pkg/models"
)

// Inbound is one normalized incoming message.
type Inbound struct {
	Channel      models.ChannelType
	AccountID    string // adapter account, e.g. the bot's own platform id
	Peer         string // chat / conversation identifier
	SenderID     string // platform-level sender identifier
	SenderName   string
	Text         string
	IsGroup      bool
	BotMentioned bool
	BotToken     string // credential the message arrived on
}

// Responder posts text back to a peer. Implemented by each adapter.
type Responder interface {
	SendText(ctx context.Context, peer, text string) error
	MaxMessageSize() int
}

// DraftEditor is implemented by adapters that can edit a sent message
// in place. The pipeline uses it to stream partial replies.
type DraftEditor interface {
	SendDraft(ctx context.Context, peer, text string) (draftID string, err error)
	EditDraft(ctx context.Context, peer, draftID, text string) error
	// EditInterval is the minimum spacing between edits the platform
	// tolerates.
	EditInterval() time.Duration
}

// Adapter is a running channel transport.
type Adapter interface {
	Channel() models.ChannelType
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Registry tracks the configured adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ChannelType]Adapter
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.ChannelType]Adapter)}
}

// Register adds or replaces the adapter for its channel type.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Channel()] = a
}

// Get returns the adapter for a channel type.
func (r *Registry) Get(channel models.ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[channel]
	return a, ok
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// StartAll starts every adapter, stopping the ones already started if
// a later one fails.
func (r *Registry) StartAll(ctx context.Context) error {
	started := make([]Adapter, 0, len(r.All()))
	for _, a := range r.All() {
		if err := a.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return err
		}
		started = append(started, a)
	}
	return nil
}

// HealthChecker is implemented by adapters that can probe their
// transport.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Health reports per-adapter status: "ok", or the probe error for
// adapters that implement HealthChecker.
func (r *Registry) Health(ctx context.Context) map[models.ChannelType]string {
	out := make(map[models.ChannelType]string)
	for _, a := range r.All() {
		status := "ok"
		if hc, ok := a.(HealthChecker); ok {
			if err := hc.Health(ctx); err != nil {
				status = err.Error()
			}
		}
		out[a.Channel()] = status
	}
	return out
}

// StopAll stops every adapter, returning the last error.
func (r *Registry) StopAll(ctx context.Context) error {
	var lastErr error
	for _, a := range r.All() {
		if err := a.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
