package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/primehq/prime/pkg/models"
)

const memoryColumns = `id, agent_id, content, tags, created_at, updated_at`

func scanMemory(row interface{ Scan(...any) error }) (*models.MemoryEntry, error) {
	var entry models.MemoryEntry
	var tags []byte
	if err := row.Scan(&entry.ID, &entry.AgentID, &entry.Content, &tags, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tags, &entry.Tags); err != nil {
		return nil, err
	}
	return &entry, nil
}

// StoreMemory inserts or rewrites a memory entry.
func (s *Store) StoreMemory(ctx context.Context, entry *models.MemoryEntry) error {
	tags, err := marshalJSON(entry.Tags, "[]")
	if err != nil {
		return err
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.UpdatedAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`) VALUES (?,?,?,?,?,?)
		 ON CONFLICT (id) DO UPDATE SET content = excluded.content, tags = excluded.tags, updated_at = excluded.updated_at`,
		entry.ID, entry.AgentID, entry.Content, tags, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: store memory: %w", err)
	}
	return nil
}

// GetMemory fetches one of the agent's memories.
func (s *Store) GetMemory(ctx context.Context, agentID, id string) (*models.MemoryEntry, error) {
	entry, err := scanMemory(s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND agent_id = ?`, id, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get memory: %w", err)
	}
	return entry, nil
}

// SearchMemories returns the agent's memories whose content matches
// the query substring, newest first. An empty query lists everything.
func (s *Store) SearchMemories(ctx context.Context, agentID, query string, limit int) ([]models.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	sqlQuery := `SELECT ` + memoryColumns + ` FROM memories WHERE agent_id = ? ORDER BY updated_at DESC LIMIT ?`
	args := []any{agentID, limit}
	if strings.TrimSpace(query) != "" {
		sqlQuery = `SELECT ` + memoryColumns + ` FROM memories
			WHERE agent_id = ? AND content LIKE ? ORDER BY updated_at DESC LIMIT ?`
		args = []any{agentID, "%" + strings.TrimSpace(query) + "%", limit}
	}
	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search memories: %w", err)
	}
	defer rows.Close()

	entries := []models.MemoryEntry{}
	for rows.Next() {
		entry, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan memory: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: search memories: %w", err)
	}
	return entries, nil
}

// ForgetMemory deletes one of the agent's memories.
func (s *Store) ForgetMemory(ctx context.Context, agentID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE id = ? AND agent_id = ?`, id, agentID)
	if err != nil {
		return fmt.Errorf("storage: forget memory: %w", err)
	}
	return rowsAffected(res, "forget memory")
}
