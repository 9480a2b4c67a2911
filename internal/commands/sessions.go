package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/primehq/prime/pkg/models"
)

// SessionStore is the slice of the relational store the directory
// needs.
type SessionStore interface {
	ListSessions(ctx context.Context, agentID string) ([]models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	FindOrCreateSession(ctx context.Context, session *models.Session) (*models.Session, error)
}

// SessionRunner pushes a message into an existing session. Implemented
// by the channel pipeline.
type SessionRunner interface {
	RunSession(ctx context.Context, session *models.Session, message, origin string) error
}

// SessionDirectory gives tools and operator commands session control:
// listing, cross-session sends, and spawning detached sessions.
type SessionDirectory struct {
	store  SessionStore
	runner SessionRunner
	agents AgentSource
}

// NewSessionDirectory wires session control over the store and the
// pipeline.
func NewSessionDirectory(store SessionStore, runner SessionRunner, agents AgentSource) *SessionDirectory {
	return &SessionDirectory{store: store, runner: runner, agents: agents}
}

// ListSessions returns the agent's active sessions.
func (d *SessionDirectory) ListSessions(ctx context.Context, agentID string) ([]models.Session, error) {
	return d.store.ListSessions(ctx, agentID)
}

// SendToSession runs text as a user turn inside an existing session.
func (d *SessionDirectory) SendToSession(ctx context.Context, sessionID, text string) error {
	session, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session.Status != models.SessionActive {
		return fmt.Errorf("session %s is not active", sessionID)
	}
	return d.runner.RunSession(ctx, session, text, "session:"+sessionID)
}

// SpawnSession creates a fresh detached session for an agent on a
// channel. The peer is synthetic; adapters never route to it.
func (d *SessionDirectory) SpawnSession(ctx context.Context, agentID string, channel models.ChannelType) (*models.Session, error) {
	agentCfg, err := d.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agentCfg == nil || !agentCfg.Active {
		return nil, fmt.Errorf("agent %s is not active", agentID)
	}
	return d.store.FindOrCreateSession(ctx, &models.Session{
		ID:      uuid.NewString(),
		OrgID:   agentCfg.OrgID,
		BotID:   "spawned",
		UserID:  "system",
		AgentID: agentCfg.ID,
		Channel: channel,
		Peer:    "spawn:" + uuid.NewString(),
		Status:  models.SessionActive,
	})
}
