// Package idempotency implements the at-most-once guard for side-effect
// methods. A client-chosen key is reserved before the side effect runs; a
// completed reservation replays its stored response on retry.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/primehq/prime/pkg/models"
)

// DefaultTTL is how long a reservation stays replayable.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInProgress is returned when a matching reservation has not
	// completed yet. Clients may retry later.
	ErrInProgress = errors.New("idempotency: request in progress")

	// ErrConflict is returned when the key was already used with different
	// parameters. Clients must not retry.
	ErrConflict = errors.New("idempotency: key reused with different params")
)

// Store persists idempotency reservations. Insert must fail with
// ErrDuplicate when a live row for (key, actor) already exists; the unique
// constraint is what makes ReserveOrGet atomic.
type Store interface {
	Insert(ctx context.Context, rec *models.IdempotencyKey) error
	Get(ctx context.Context, key, actorID string) (*models.IdempotencyKey, error)
	Update(ctx context.Context, rec *models.IdempotencyKey) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ErrDuplicate is returned by Store.Insert when the row already exists.
var ErrDuplicate = errors.New("idempotency: duplicate key")

// ErrNotFound is returned by Store.Get when no row exists.
var ErrNotFound = errors.New("idempotency: key not found")

// Service implements reserve-or-get semantics on top of a Store.
type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithTTL overrides the reservation TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an idempotency service backed by the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReserveOrGet reserves the key for the caller or returns the replayed
// response of a previous completed call with identical params.
//
// A nil response with nil error means the reservation is new and the caller
// should proceed, then call Complete or Fail.
func (s *Service) ReserveOrGet(ctx context.Context, key, actorID, method string, params any) (json.RawMessage, error) {
	hash, err := CanonicalHash(params)
	if err != nil {
		return nil, fmt.Errorf("idempotency: hash params: %w", err)
	}

	now := s.now()
	rec := &models.IdempotencyKey{
		Key:         key,
		ActorID:     actorID,
		Method:      method,
		RequestHash: hash,
		Status:      models.IdempotencyInProgress,
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}

	err = s.store.Insert(ctx, rec)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return nil, err
	}

	existing, err := s.store.Get(ctx, key, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Row vanished between insert and get; treat as reservable by
			// retrying the insert once.
			if err := s.store.Insert(ctx, rec); err == nil {
				return nil, nil
			}
		}
		return nil, err
	}

	if existing.Expired(now) {
		// Expired rows are treated as absent: take over the reservation.
		rec.CreatedAt = now
		if err := s.store.Update(ctx, rec); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if existing.RequestHash != hash {
		return nil, ErrConflict
	}

	switch existing.Status {
	case models.IdempotencyCompleted:
		return json.RawMessage(existing.Response), nil
	case models.IdempotencyFailed:
		// A failed attempt is reservable again with the same params.
		rec.CreatedAt = now
		if err := s.store.Update(ctx, rec); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, ErrInProgress
	}
}

// Complete stores the response for a reserved key so later calls replay it.
func (s *Service) Complete(ctx context.Context, key, actorID string, response any) error {
	rec, err := s.store.Get(ctx, key, actorID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("idempotency: encode response: %w", err)
	}
	rec.Status = models.IdempotencyCompleted
	rec.Response = data
	return s.store.Update(ctx, rec)
}

// Fail marks a reserved key as failed, making it reservable again.
func (s *Service) Fail(ctx context.Context, key, actorID, reason string) error {
	rec, err := s.store.Get(ctx, key, actorID)
	if err != nil {
		return err
	}
	rec.Status = models.IdempotencyFailed
	rec.Response = []byte(fmt.Sprintf("%q", reason))
	return s.store.Update(ctx, rec)
}

// PruneExpired removes reservations past their TTL.
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

// CanonicalHash returns the SHA-256 of the sorted-key JSON encoding of
// params. Two structurally equal parameter sets hash identically regardless
// of field order.
func CanonicalHash(params any) (string, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(params any) ([]byte, error) {
	if params == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	// Round-trip through any so encoding/json re-emits object keys sorted.
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
