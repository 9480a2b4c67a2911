package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/primehq/prime/internal/idempotency"
	"github.com/primehq/prime/pkg/models"
)

// Insert reserves an idempotency key. The (key, actor) primary key is
// what makes reserve-or-get race-free across gateway replicas.
func (s *Store) Insert(ctx context.Context, rec *models.IdempotencyKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, actor_id, method, request_hash, status, response, expires_at, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		rec.Key, rec.ActorID, rec.Method, rec.RequestHash, string(rec.Status), rec.Response,
		rec.ExpiresAt, rec.CreatedAt)
	if isUniqueViolation(err) {
		return idempotency.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("storage: insert idempotency key: %w", err)
	}
	return nil
}

// Get fetches a reservation.
func (s *Store) Get(ctx context.Context, key, actorID string) (*models.IdempotencyKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, actor_id, method, request_hash, status, response, expires_at, created_at
		 FROM idempotency_keys WHERE key = ? AND actor_id = ?`, key, actorID)
	var rec models.IdempotencyKey
	var status string
	if err := row.Scan(&rec.Key, &rec.ActorID, &rec.Method, &rec.RequestHash, &status, &rec.Response,
		&rec.ExpiresAt, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, idempotency.ErrNotFound
		}
		return nil, fmt.Errorf("storage: get idempotency key: %w", err)
	}
	rec.Status = models.IdempotencyStatus(status)
	return &rec, nil
}

// Update rewrites a reservation. Every mutable column is persisted:
// an expired-row takeover replaces the request hash and method along
// with the outcome, so later retries compare against the new request.
func (s *Store) Update(ctx context.Context, rec *models.IdempotencyKey) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET method = ?, request_hash = ?, status = ?, response = ?, expires_at = ?, created_at = ?
		 WHERE key = ? AND actor_id = ?`,
		rec.Method, rec.RequestHash, string(rec.Status), rec.Response, rec.ExpiresAt, rec.CreatedAt,
		rec.Key, rec.ActorID)
	if err != nil {
		return fmt.Errorf("storage: update idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update idempotency key rows affected: %w", err)
	}
	if n == 0 {
		return idempotency.ErrNotFound
	}
	return nil
}

// DeleteExpired sweeps reservations past their TTL.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired rows affected: %w", err)
	}
	return n, nil
}
