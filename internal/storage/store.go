// Package storage is the relational store. A single SQLite database
// backs every persistence interface in the codebase: tenant entities,
// sessions and transcripts, idempotency reservations, pairing state,
// knowledge bases, triggers, node executions, tasks, and memories.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrAlreadyExists = errors.New("storage: already exists")
)

// Config tunes the database connection.
type Config struct {
	// Path is the database file. ":memory:" keeps everything in RAM.
	Path string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns conservative connection settings. SQLite
// serializes writes, so a small pool is enough.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Hour,
	}
}

// Store is the SQLite-backed implementation of the persistence
// interfaces declared across the codebase.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage: database path is required")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection and applies the schema. Used
// by tests.
func NewWithDB(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Ping reports database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		slug       TEXT NOT NULL UNIQUE,
		active     INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id             TEXT PRIMARY KEY,
		org_id         TEXT NOT NULL,
		username       TEXT NOT NULL,
		telegram_id    INTEGER NOT NULL DEFAULT 0,
		role           TEXT NOT NULL,
		password_hash  TEXT NOT NULL DEFAULT '',
		api_token_hash TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMP NOT NULL,
		UNIQUE (org_id, username)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_telegram ON users (telegram_id)`,
	`CREATE TABLE IF NOT EXISTS bots (
		id                TEXT PRIMARY KEY,
		org_id            TEXT NOT NULL,
		name              TEXT NOT NULL,
		token             TEXT NOT NULL UNIQUE,
		channels          TEXT NOT NULL DEFAULT '[]',
		allowed_user_ids  TEXT NOT NULL DEFAULT '[]',
		active            INTEGER NOT NULL DEFAULT 1,
		provider_defaults TEXT NOT NULL DEFAULT '{}',
		created_at        TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS providers (
		id            TEXT PRIMARY KEY,
		org_id        TEXT NOT NULL,
		name          TEXT NOT NULL,
		type          TEXT NOT NULL,
		api_key       TEXT NOT NULL DEFAULT '',
		api_base      TEXT NOT NULL DEFAULT '',
		default_model TEXT NOT NULL DEFAULT '',
		models        TEXT NOT NULL DEFAULT '{}',
		optimization  TEXT,
		active        INTEGER NOT NULL DEFAULT 1,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id                     TEXT PRIMARY KEY,
		org_id                 TEXT NOT NULL,
		name                   TEXT NOT NULL,
		default_provider_id    TEXT NOT NULL DEFAULT '',
		workspace_path         TEXT NOT NULL DEFAULT '',
		dm_policy              TEXT NOT NULL,
		allowed_user_ids       TEXT NOT NULL DEFAULT '[]',
		group_requires_mention INTEGER NOT NULL DEFAULT 0,
		system_prompt          TEXT NOT NULL DEFAULT '',
		web_search_enabled     INTEGER NOT NULL DEFAULT 0,
		memory_enabled         INTEGER NOT NULL DEFAULT 0,
		max_history_messages   INTEGER NOT NULL DEFAULT 0,
		code_execution_enabled INTEGER NOT NULL DEFAULT 0,
		active                 INTEGER NOT NULL DEFAULT 1,
		created_at             TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bindings (
		id         TEXT PRIMARY KEY,
		org_id     TEXT NOT NULL,
		agent_id   TEXT NOT NULL,
		bot_id     TEXT NOT NULL DEFAULT '',
		channel    TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		peer       TEXT NOT NULL DEFAULT '',
		priority   INTEGER NOT NULL DEFAULT 0,
		active     INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bindings_channel ON bindings (channel, active)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		org_id      TEXT NOT NULL,
		bot_id      TEXT NOT NULL,
		user_id     TEXT NOT NULL,
		agent_id    TEXT NOT NULL,
		provider_id TEXT NOT NULL DEFAULT '',
		channel     TEXT NOT NULL,
		peer        TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_triple ON sessions (bot_id, user_id, agent_id, channel, peer, status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions (agent_id, status)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT NOT NULL,
		content_type TEXT NOT NULL,
		meta         TEXT,
		created_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key          TEXT NOT NULL,
		actor_id     TEXT NOT NULL,
		method       TEXT NOT NULL,
		request_hash TEXT NOT NULL,
		status       TEXT NOT NULL,
		response     BLOB,
		expires_at   TIMESTAMP NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		PRIMARY KEY (key, actor_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_idempotency_expiry ON idempotency_keys (expires_at)`,
	`CREATE TABLE IF NOT EXISTS pairing_requests (
		id          TEXT PRIMARY KEY,
		agent_id    TEXT NOT NULL,
		channel     TEXT NOT NULL,
		account_id  TEXT NOT NULL DEFAULT '',
		peer        TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		code        TEXT NOT NULL UNIQUE,
		status      TEXT NOT NULL,
		expires_at  TIMESTAMP NOT NULL,
		created_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pairing_requests_peer ON pairing_requests (agent_id, channel, account_id, peer, status)`,
	`CREATE TABLE IF NOT EXISTS paired_devices (
		id         TEXT PRIMARY KEY,
		agent_id   TEXT NOT NULL,
		channel    TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		peer       TEXT NOT NULL,
		paired_at  TIMESTAMP NOT NULL,
		revoked_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_paired_devices_peer ON paired_devices (agent_id, channel, account_id, peer)`,
	`CREATE TABLE IF NOT EXISTS device_auth_requests (
		id               TEXT PRIMARY KEY,
		device_code_hash TEXT NOT NULL UNIQUE,
		user_code        TEXT NOT NULL UNIQUE,
		user_id          TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		interval_seconds INTEGER NOT NULL,
		expires_at       TIMESTAMP NOT NULL,
		created_at       TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_bases (
		id         TEXT PRIMARY KEY,
		org_id     TEXT NOT NULL,
		name       TEXT NOT NULL,
		agent_ids  TEXT NOT NULL DEFAULT '[]',
		active     INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id                TEXT PRIMARY KEY,
		knowledge_base_id TEXT NOT NULL,
		filename          TEXT NOT NULL,
		content_type      TEXT NOT NULL DEFAULT '',
		content_base64    TEXT NOT NULL DEFAULT '',
		file_path         TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		error             TEXT NOT NULL DEFAULT '',
		chunk_count       INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_kb ON documents (knowledge_base_id)`,
	`CREATE TABLE IF NOT EXISTS document_chunks (
		id                TEXT PRIMARY KEY,
		document_id       TEXT NOT NULL,
		knowledge_base_id TEXT NOT NULL,
		chunk_index       INTEGER NOT NULL,
		content           TEXT NOT NULL,
		embedding         TEXT,
		filename          TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_kb ON document_chunks (knowledge_base_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks (document_id, chunk_index)`,
	`CREATE TABLE IF NOT EXISTS cron_jobs (
		id          TEXT PRIMARY KEY,
		org_id      TEXT NOT NULL,
		name        TEXT NOT NULL,
		schedule    TEXT NOT NULL,
		message     TEXT NOT NULL,
		agent_id    TEXT NOT NULL,
		active      INTEGER NOT NULL DEFAULT 1,
		last_run_at TIMESTAMP,
		created_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS webhooks (
		id               TEXT PRIMARY KEY,
		org_id           TEXT NOT NULL,
		name             TEXT NOT NULL,
		path             TEXT NOT NULL UNIQUE,
		message_template TEXT NOT NULL,
		agent_id         TEXT NOT NULL,
		secret           TEXT NOT NULL DEFAULT '',
		active           INTEGER NOT NULL DEFAULT 1,
		created_at       TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS node_executions (
		id                TEXT PRIMARY KEY,
		connection_id     TEXT NOT NULL DEFAULT '',
		node_id           TEXT NOT NULL,
		node_name         TEXT NOT NULL DEFAULT '',
		command           TEXT NOT NULL,
		params            TEXT,
		working_dir       TEXT NOT NULL DEFAULT '',
		env_vars          TEXT,
		status            TEXT NOT NULL,
		requires_approval INTEGER NOT NULL DEFAULT 0,
		approved_by       TEXT NOT NULL DEFAULT '',
		approved_at       TIMESTAMP,
		rejection_reason  TEXT NOT NULL DEFAULT '',
		exit_code         INTEGER,
		stdout            TEXT NOT NULL DEFAULT '',
		stderr            TEXT NOT NULL DEFAULT '',
		error_message     TEXT NOT NULL DEFAULT '',
		idempotency_key   TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_node_executions_status ON node_executions (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS node_approvals (
		id                 TEXT PRIMARY KEY,
		execution_id       TEXT NOT NULL,
		command            TEXT NOT NULL,
		params_summary     TEXT NOT NULL DEFAULT '',
		risk_level         TEXT NOT NULL,
		status             TEXT NOT NULL,
		expires_at         TIMESTAMP NOT NULL,
		auto_approved      INTEGER NOT NULL DEFAULT 0,
		auto_approval_rule TEXT NOT NULL DEFAULT '',
		decided_by         TEXT NOT NULL DEFAULT '',
		decided_at         TIMESTAMP,
		created_at         TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_node_approvals_status ON node_approvals (status, expires_at)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id         TEXT PRIMARY KEY,
		org_id     TEXT NOT NULL,
		kind       TEXT NOT NULL,
		params     TEXT,
		status     TEXT NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0,
		error      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_org ON tasks (org_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		agent_id   TEXT NOT NULL,
		content    TEXT NOT NULL,
		tags       TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories (agent_id, updated_at)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether the driver error is a unique
// constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// rowsAffected converts a zero-row update into ErrNotFound.
func rowsAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: %s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
