package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/internal/agent"
	"github.com/primehq/prime/pkg/models"
)

// MemoryStore persists agent memories. Implemented by the storage layer.
type MemoryStore interface {
	SearchMemories(ctx context.Context, agentID, query string, limit int) ([]models.MemoryEntry, error)
	GetMemory(ctx context.Context, agentID, id string) (*models.MemoryEntry, error)
	StoreMemory(ctx context.Context, entry *models.MemoryEntry) error
	ForgetMemory(ctx context.Context, agentID, id string) error
}

const memorySearchLimit = 10

// MemorySearchTool finds stored memories matching a query.
type MemorySearchTool struct {
	Store MemoryStore
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search stored memories for entries matching a query."
}

func (t *MemorySearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search text."}
		},
		"required": ["query"]
	}`)
}

func (t *MemorySearchTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	entries, err := t.Store.SearchMemories(ctx, call.AgentID, in.Query, memorySearchLimit)
	if err != nil {
		return "", fmt.Errorf("search memories: %w", err)
	}
	if len(entries) == 0 {
		return "no memories found", nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s\n", e.ID, e.Content)
	}
	return strings.TrimSpace(b.String()), nil
}

// MemoryGetTool fetches a single memory by ID.
type MemoryGetTool struct {
	Store MemoryStore
}

func (t *MemoryGetTool) Name() string { return "memory_get" }

func (t *MemoryGetTool) Description() string {
	return "Fetch one stored memory by its ID."
}

func (t *MemoryGetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Memory ID."}
		},
		"required": ["id"]
	}`)
}

func (t *MemoryGetTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	entry, err := t.Store.GetMemory(ctx, call.AgentID, in.ID)
	if err != nil {
		return "", fmt.Errorf("get memory: %w", err)
	}
	return entry.Content, nil
}

// MemoryStoreTool saves a new memory.
type MemoryStoreTool struct {
	Store MemoryStore
}

func (t *MemoryStoreTool) Name() string { return "memory_store" }

func (t *MemoryStoreTool) Description() string {
	return "Store a fact in durable memory, optionally tagged."
}

func (t *MemoryStoreTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "Fact to remember."},
			"tags": {"type": "array", "items": {"type": "string"}, "description": "Optional tags."}
		},
		"required": ["content"]
	}`)
}

func (t *MemoryStoreTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Content) == "" {
		return "", fmt.Errorf("content is required")
	}
	now := time.Now()
	entry := &models.MemoryEntry{
		ID:        uuid.NewString(),
		AgentID:   call.AgentID,
		Content:   in.Content,
		Tags:      in.Tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.Store.StoreMemory(ctx, entry); err != nil {
		return "", fmt.Errorf("store memory: %w", err)
	}
	return "stored memory " + entry.ID, nil
}

// MemoryForgetTool deletes a memory by ID.
type MemoryForgetTool struct {
	Store MemoryStore
}

func (t *MemoryForgetTool) Name() string { return "memory_forget" }

func (t *MemoryForgetTool) Description() string {
	return "Delete a stored memory by its ID."
}

func (t *MemoryForgetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Memory ID."}
		},
		"required": ["id"]
	}`)
}

func (t *MemoryForgetTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	if err := t.Store.ForgetMemory(ctx, call.AgentID, in.ID); err != nil {
		return "", fmt.Errorf("forget memory: %w", err)
	}
	return "forgot memory " + in.ID, nil
}
