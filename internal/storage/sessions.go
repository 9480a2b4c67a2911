package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/pkg/models"
)

const sessionColumns = `id, org_id, bot_id, user_id, agent_id, provider_id, channel, peer, status, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var sess models.Session
	var channel, status string
	if err := row.Scan(&sess.ID, &sess.OrgID, &sess.BotID, &sess.UserID, &sess.AgentID, &sess.ProviderID,
		&channel, &sess.Peer, &status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.Channel = models.ChannelType(channel)
	sess.Status = models.SessionStatus(status)
	return &sess, nil
}

// FindOrCreateSession returns the active session for the message's
// (bot, user, agent, channel, peer) tuple, creating one on the first
// authorized message.
func (s *Store) FindOrCreateSession(ctx context.Context, session *models.Session) (*models.Session, error) {
	existing, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE bot_id = ? AND user_id = ? AND agent_id = ? AND channel = ? AND peer = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`,
		session.BotID, session.UserID, session.AgentID, string(session.Channel), session.Peer,
		string(models.SessionActive)))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage: find session: %w", err)
	}

	now := time.Now()
	created := *session
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	created.Status = models.SessionActive
	created.CreatedAt = now
	created.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		created.ID, created.OrgID, created.BotID, created.UserID, created.AgentID, created.ProviderID,
		string(created.Channel), created.Peer, string(created.Status), created.CreatedAt, created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("storage: create session: %w", err)
	}
	return &created, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns an agent's active sessions, most recent first.
func (s *Store) ListSessions(ctx context.Context, agentID string) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE agent_id = ? AND status = ? ORDER BY updated_at DESC`,
		agentID, string(models.SessionActive))
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionStatus moves a session to a new lifecycle state.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("storage: update session status: %w", err)
	}
	return rowsAffected(res, "update session status")
}

// AppendMessage stores one conversation turn and bumps the session's
// updated_at.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	var meta any
	if msg.Meta != nil {
		raw, err := marshalJSON(msg.Meta, "")
		if err != nil {
			return err
		}
		meta = raw
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, content_type, meta, created_at) VALUES (?,?,?,?,?,?,?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, string(msg.ContentType), meta, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: append message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.SessionID)
	if err != nil {
		return fmt.Errorf("storage: touch session: %w", err)
	}
	return nil
}

// ListRecentMessages returns the newest turns of a session in
// chronological order.
func (s *Store) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, content_type, meta, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var role, contentType string
		var meta []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &contentType, &meta, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		msg.Role = models.MessageRole(role)
		msg.ContentType = models.ContentType(contentType)
		if len(meta) > 0 {
			msg.Meta = &models.MessageMeta{}
			if err := unmarshalJSON(meta, msg.Meta); err != nil {
				return nil, err
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}

	// Reverse the newest-first page into transcript order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
