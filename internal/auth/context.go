package auth

import "context"

type identityContextKey struct{}

// WithIdentity attaches a validated identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the caller identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok
}
