package models

import "time"

// Organization is the tenant root. Every other tenant-scoped entity carries
// its OrgID.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRole controls administrative access.
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// User is an identity created on first successful channel interaction or via
// onboarding.
type User struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Username     string    `json:"username"`
	TelegramID   int64     `json:"telegram_id,omitempty"`
	Role         UserRole  `json:"role"`
	PasswordHash string    `json:"-"`
	APITokenHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Bot is a channel credential. Its token must be unique within a channel
// family.
type Bot struct {
	ID               string         `json:"id"`
	OrgID            string         `json:"org_id"`
	Name             string         `json:"name"`
	Token            string         `json:"-"`
	Channels         []ChannelType  `json:"channels"`
	AllowedUserIDs   []string       `json:"allowed_user_ids,omitempty"`
	Active           bool           `json:"active"`
	ProviderDefaults map[string]any `json:"provider_defaults,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ProviderType selects an LLM backend implementation.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderDeepSeek  ProviderType = "deepseek"
	ProviderGemini    ProviderType = "gemini"
	ProviderKimi      ProviderType = "kimi"
	ProviderMistral   ProviderType = "mistral"
	ProviderGLM       ProviderType = "glm"
	ProviderQwen      ProviderType = "qwen"
	ProviderOllama    ProviderType = "ollama"
	ProviderHTTP      ProviderType = "http"
	ProviderShell     ProviderType = "shell"
)

// ModelConfig describes one model offered by a provider, including pricing
// used by the token optimizer.
type ModelConfig struct {
	MaxTokens         int     `json:"max_tokens,omitempty"`
	CostPer1MInput    float64 `json:"cost_per_1m_input,omitempty"`
	CostPer1MOutput   float64 `json:"cost_per_1m_output,omitempty"`
	SupportsVision    bool    `json:"supports_vision,omitempty"`
	SupportsTools     bool    `json:"supports_tools,omitempty"`
	ContextWindowSize int     `json:"context_window,omitempty"`
}

// TokenOptimization configures the per-provider optimizer behavior.
type TokenOptimization struct {
	Enabled           bool              `json:"enabled"`
	AutoRouteEnabled  bool              `json:"auto_route_enabled,omitempty"`
	RouteByComplexity map[string]string `json:"route_by_complexity,omitempty"`
	OutputRatio       float64           `json:"output_ratio,omitempty"`
	MaxMessageTokens  int               `json:"max_message_tokens,omitempty"`
	InputBudgetTokens int               `json:"input_budget_tokens,omitempty"`
}

// Provider is a configured LLM backend.
type Provider struct {
	ID           string                 `json:"id"`
	OrgID        string                 `json:"org_id"`
	Name         string                 `json:"name"`
	Type         ProviderType           `json:"type"`
	APIKey       string                 `json:"-"`
	APIBase      string                 `json:"api_base,omitempty"`
	DefaultModel string                 `json:"default_model,omitempty"`
	Models       map[string]ModelConfig `json:"models,omitempty"`
	Optimization *TokenOptimization     `json:"token_optimization,omitempty"`
	Active       bool                   `json:"active"`
	CreatedAt    time.Time              `json:"created_at"`
}

// DMPolicy is the per-agent authorization rule for inbound messages.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"
	DMPolicyAllowlist DMPolicy = "allowlist"
	DMPolicyOpen      DMPolicy = "open"
	DMPolicyDisabled  DMPolicy = "disabled"
)

// Agent is a behavior spec bound to a default provider.
type Agent struct {
	ID                   string    `json:"id"`
	OrgID                string    `json:"org_id"`
	Name                 string    `json:"name"`
	DefaultProviderID    string    `json:"default_provider_id,omitempty"`
	WorkspacePath        string    `json:"workspace_path,omitempty"`
	DMPolicy             DMPolicy  `json:"dm_policy"`
	AllowedUserIDs       []string  `json:"allowed_user_ids,omitempty"`
	GroupRequiresMention bool      `json:"group_requires_mention"`
	SystemPrompt         string    `json:"system_prompt,omitempty"`
	WebSearchEnabled     bool      `json:"web_search_enabled"`
	MemoryEnabled        bool      `json:"memory_enabled"`
	MaxHistoryMessages   int       `json:"max_history_messages,omitempty"`
	CodeExecutionEnabled bool      `json:"code_execution_enabled"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
}

// Binding is a durable routing rule tying a (channel, bot, account, peer)
// tuple to an agent. Lower priority wins within a specificity tier.
type Binding struct {
	ID        string      `json:"id"`
	OrgID     string      `json:"org_id"`
	AgentID   string      `json:"agent_id"`
	BotID     string      `json:"bot_id,omitempty"`
	Channel   ChannelType `json:"channel"`
	AccountID string      `json:"account_id,omitempty"`
	Peer      string      `json:"peer,omitempty"`
	Priority  int         `json:"priority"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
}
