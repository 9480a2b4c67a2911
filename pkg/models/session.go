package models

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a conversation thread.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionFinished SessionStatus = "finished"
	SessionFailed   SessionStatus = "failed"
)

// Session is a conversation thread, created on the first authorized message
// for a (bot, user, agent) triple.
type Session struct {
	ID         string        `json:"id"`
	OrgID      string        `json:"org_id"`
	BotID      string        `json:"bot_id"`
	UserID     string        `json:"user_id"`
	AgentID    string        `json:"agent_id"`
	ProviderID string        `json:"provider_id,omitempty"`
	Channel    ChannelType   `json:"channel"`
	Peer       string        `json:"peer,omitempty"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// MessageRole identifies the author of a conversation turn.
type MessageRole string

const (
	RoleUserMsg   MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ContentType classifies message content.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentFile  ContentType = "file"
	ContentImage ContentType = "image"
	ContentCode  ContentType = "code"
)

// Usage carries token accounting for one provider exchange or a whole run.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// Add accumulates usage from another exchange.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

// MessageMeta is the free-form metadata stored with a message. The optimizer
// snapshot and usage live here so a turn is auditable after the fact.
type MessageMeta struct {
	Usage     *Usage          `json:"usage,omitempty"`
	Optimizer json.RawMessage `json:"optimizer,omitempty"`
	Model     string          `json:"model,omitempty"`
	Extra     map[string]any  `json:"extra,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Role        MessageRole  `json:"role"`
	Content     string       `json:"content"`
	ContentType ContentType  `json:"content_type"`
	Meta        *MessageMeta `json:"meta,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
