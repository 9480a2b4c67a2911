// Package auth issues and validates the credentials the gateway and
// REST surface accept: scoped JWTs, password logins, static API
// tokens, and the OAuth device-code flow.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/primehq/prime/pkg/models"
)

var (
	ErrAuthDisabled       = errors.New("auth disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserStore is the slice of the relational store auth needs.
type UserStore interface {
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Config configures the auth service.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// Service authenticates callers and mints tokens.
type Service struct {
	jwt   *JWTService
	users UserStore
}

// NewService builds an auth service. A blank secret disables JWT
// issuance and validation.
func NewService(cfg Config, users UserStore) *Service {
	s := &Service{users: users}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		s.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	return s
}

// Enabled reports whether token checks should run.
func (s *Service) Enabled() bool {
	return s != nil && s.jwt != nil
}

// HashSecret returns the hex SHA-256 digest used for stored password
// and API token hashes.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secretMatches(storedHash, presented string) bool {
	if storedHash == "" {
		return false
	}
	digest := HashSecret(presented)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(digest)) == 1
}

// AuthenticatePassword checks a username/password pair against the
// user store.
func (s *Service) AuthenticatePassword(ctx context.Context, username, password string) (*models.User, error) {
	if s == nil || s.users == nil {
		return nil, ErrAuthDisabled
	}
	user, err := s.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil || user == nil {
		return nil, ErrInvalidCredentials
	}
	if !secretMatches(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// AuthenticateAPIToken resolves a static API token to its user.
func (s *Service) AuthenticateAPIToken(ctx context.Context, userID, token string) (*models.User, error) {
	if s == nil || s.users == nil {
		return nil, ErrAuthDisabled
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil || user == nil {
		return nil, ErrInvalidCredentials
	}
	if !secretMatches(user.APITokenHash, token) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// IssueToken mints a JWT for the user with their role's scopes. The
// nonce binds the token to one gateway handshake; pass "" for tokens
// used outside the WebSocket connect exchange.
func (s *Service) IssueToken(user *models.User, nonce string) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(user, ScopesForRole(user.Role), nonce)
}

// ValidateToken parses a JWT into the caller's identity.
func (s *Service) ValidateToken(token string) (*Identity, error) {
	if s == nil || s.jwt == nil {
		return nil, ErrAuthDisabled
	}
	return s.jwt.Validate(token)
}

// ScopesForRole maps a user role to its default scope set. Admins hold
// the wildcard; regular users get read scopes plus task writes.
func ScopesForRole(role models.UserRole) []string {
	if role == models.RoleAdmin {
		return []string{"*"}
	}
	return []string{"health.read", "tasks.read", "tasks.write", "routing.read", "policy.read"}
}
