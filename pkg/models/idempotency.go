package models

import "time"

// IdempotencyStatus is the lifecycle state of an idempotency reservation.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "in_progress"
	IdempotencyCompleted  IdempotencyStatus = "completed"
	IdempotencyFailed     IdempotencyStatus = "failed"
)

// IdempotencyKey is the durable at-most-once guard for side-effect methods.
// Equal (key, actor) pairs with differing request hashes are a conflict.
type IdempotencyKey struct {
	Key         string            `json:"key"`
	ActorID     string            `json:"actor_id"`
	Method      string            `json:"method"`
	RequestHash string            `json:"request_hash"`
	Status      IdempotencyStatus `json:"status"`
	Response    []byte            `json:"response,omitempty"`
	ExpiresAt   time.Time         `json:"expires_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Expired reports whether the reservation is past its TTL at the given time.
func (k *IdempotencyKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt)
}
