package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/primehq/prime/internal/agent"
	"github.com/primehq/prime/pkg/models"
)

// SessionDirectory exposes session control to the toolset. Implemented
// by the command layer so tool calls go through the same dispatch as
// operator commands.
type SessionDirectory interface {
	ListSessions(ctx context.Context, agentID string) ([]models.Session, error)
	SendToSession(ctx context.Context, sessionID, text string) error
	SpawnSession(ctx context.Context, agentID string, channel models.ChannelType) (*models.Session, error)
}

// SessionsListTool lists the calling agent's sessions.
type SessionsListTool struct {
	Directory SessionDirectory
}

func (t *SessionsListTool) Name() string { return "sessions_list" }

func (t *SessionsListTool) Description() string {
	return "List active sessions for this agent."
}

func (t *SessionsListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *SessionsListTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	sessions, err := t.Directory.ListSessions(ctx, call.AgentID)
	if err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return "no sessions", nil
	}
	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "%s  channel=%s  status=%s\n", s.ID, s.Channel, s.Status)
	}
	return strings.TrimSpace(b.String()), nil
}

// SessionsSendTool injects a message into another session.
type SessionsSendTool struct {
	Directory SessionDirectory
}

func (t *SessionsSendTool) Name() string { return "sessions_send" }

func (t *SessionsSendTool) Description() string {
	return "Send a message into another session by ID."
}

func (t *SessionsSendTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"session_id": {"type": "string", "description": "Target session ID."},
			"text": {"type": "string", "description": "Message text."}
		},
		"required": ["session_id", "text"]
	}`)
}

func (t *SessionsSendTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	if err := t.Directory.SendToSession(ctx, in.SessionID, in.Text); err != nil {
		return "", fmt.Errorf("send to session: %w", err)
	}
	return "sent to session " + in.SessionID, nil
}

// SessionsSpawnTool creates a fresh session for the calling agent.
type SessionsSpawnTool struct {
	Directory SessionDirectory
}

func (t *SessionsSpawnTool) Name() string { return "sessions_spawn" }

func (t *SessionsSpawnTool) Description() string {
	return "Spawn a new session for this agent on a channel."
}

func (t *SessionsSpawnTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"channel": {"type": "string", "description": "Channel for the new session (default web)."}
		}
	}`)
}

func (t *SessionsSpawnTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	channel := models.ChannelType(in.Channel)
	if in.Channel == "" {
		channel = models.ChannelWeb
	}
	if !channel.Valid() {
		return "", fmt.Errorf("unknown channel %q", in.Channel)
	}
	session, err := t.Directory.SpawnSession(ctx, call.AgentID, channel)
	if err != nil {
		return "", fmt.Errorf("spawn session: %w", err)
	}
	return "spawned session " + session.ID, nil
}
