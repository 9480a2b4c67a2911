// Package commands is the RPC dispatch layer shared by the WebSocket
// gateway and the REST surface: method table, scope enforcement, and
// idempotency for side-effecting calls.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/primehq/prime/internal/idempotency"
	"github.com/primehq/prime/internal/observability"
)

// Error codes surfaced to clients.
const (
	CodeNotFound              = "not_found"
	CodeScopeDenied           = "scope_denied"
	CodeIdempotencyRequired   = "idempotency_required"
	CodeIdempotencyConflict   = "idempotency_conflict"
	CodeIdempotencyInProgress = "idempotency_in_progress"
	CodeInvalidParams         = "invalid_params"
	CodeCommandFailed         = "command_failed"
)

// Error is a dispatch failure with a stable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Claims carries the caller's identity and scopes into dispatch.
type Claims struct {
	UserID string
	OrgID  string
	Scopes []string
}

// HasScope reports whether the caller holds the scope. The "*"
// wildcard grants everything; "tasks.*" grants every tasks scope.
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope || s == "*" {
			return true
		}
		if n := len(s); n > 2 && s[n-2:] == ".*" && len(scope) > n-2 && scope[:n-2] == s[:n-2] {
			return true
		}
	}
	return false
}

// HandlerFunc executes one method.
type HandlerFunc func(ctx context.Context, claims Claims, params json.RawMessage) (any, error)

type method struct {
	scope      string
	sideEffect bool
	handler    HandlerFunc
}

// Bus routes methods to handlers with scope and idempotency checks.
type Bus struct {
	methods map[string]method
	idem    *idempotency.Service
	logger  *slog.Logger
	tracer  *observability.Tracer
}

// NewBus creates an empty bus. Side-effecting methods require the
// idempotency service; passing nil restricts the bus to reads.
func NewBus(idem *idempotency.Service, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		methods: make(map[string]method),
		idem:    idem,
		logger:  logger.With("component", "commands"),
		tracer:  observability.Noop(),
	}
}

// SetTracer replaces the no-op tracer installed by NewBus.
func (b *Bus) SetTracer(t *observability.Tracer) {
	if t != nil {
		b.tracer = t
	}
}

// Register adds a read-only method.
func (b *Bus) Register(name, scope string, handler HandlerFunc) {
	b.methods[name] = method{scope: scope, handler: handler}
}

// RegisterSideEffect adds a method that mutates state; dispatch will
// demand an idempotency key.
func (b *Bus) RegisterSideEffect(name, scope string, handler HandlerFunc) {
	b.methods[name] = method{scope: scope, sideEffect: true, handler: handler}
}

// Methods lists registered method names.
func (b *Bus) Methods() []string {
	out := make([]string, 0, len(b.methods))
	for name := range b.methods {
		out = append(out, name)
	}
	return out
}

// Dispatch runs one call. Side-effect methods replay a previous
// response when the same idempotency key and params are seen again.
// Each call runs under its own trace span.
func (b *Bus) Dispatch(ctx context.Context, name string, params json.RawMessage, claims Claims, idempotencyKey string) (json.RawMessage, error) {
	ctx, span := b.tracer.StartDispatch(ctx, name, claims.UserID)
	defer span.End()

	result, err := b.dispatch(ctx, name, params, claims, idempotencyKey)
	if err != nil {
		b.tracer.RecordError(span, err)
	}
	return result, err
}

func (b *Bus) dispatch(ctx context.Context, name string, params json.RawMessage, claims Claims, idempotencyKey string) (json.RawMessage, error) {
	m, ok := b.methods[name]
	if !ok {
		return nil, errf(CodeNotFound, "unknown method %q", name)
	}
	if !claims.HasScope(m.scope) {
		return nil, errf(CodeScopeDenied, "method %q requires scope %q", name, m.scope)
	}

	if !m.sideEffect {
		return b.invoke(ctx, name, m, claims, params)
	}

	if idempotencyKey == "" {
		return nil, errf(CodeIdempotencyRequired, "method %q requires an idempotency_key", name)
	}
	if b.idem == nil {
		return nil, errf(CodeCommandFailed, "idempotency service unavailable")
	}

	replay, err := b.idem.ReserveOrGet(ctx, idempotencyKey, claims.UserID, name, params)
	if err != nil {
		switch err {
		case idempotency.ErrConflict:
			return nil, errf(CodeIdempotencyConflict, "idempotency key reused with different params")
		case idempotency.ErrInProgress:
			return nil, errf(CodeIdempotencyInProgress, "request with this idempotency key is in progress")
		}
		return nil, err
	}
	if replay != nil {
		b.logger.Debug("replaying idempotent response", "method", name, "key", idempotencyKey)
		return replay, nil
	}

	result, err := b.invoke(ctx, name, m, claims, params)
	if err != nil {
		if failErr := b.idem.Fail(ctx, idempotencyKey, claims.UserID, err.Error()); failErr != nil {
			b.logger.Warn("failed to mark idempotency failure", "key", idempotencyKey, "error", failErr)
		}
		return nil, err
	}
	if err := b.idem.Complete(ctx, idempotencyKey, claims.UserID, json.RawMessage(result)); err != nil {
		b.logger.Warn("failed to store idempotent response", "key", idempotencyKey, "error", err)
	}
	return result, nil
}

func (b *Bus) invoke(ctx context.Context, name string, m method, claims Claims, params json.RawMessage) (json.RawMessage, error) {
	result, err := m.handler(ctx, claims, params)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, errf(CodeCommandFailed, "marshal %q response: %v", name, err)
	}
	return out, nil
}
