package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/primehq/prime/pkg/models"
)

const defaultTokenExpiry = 24 * time.Hour

// Identity is the validated caller extracted from a token.
type Identity struct {
	UserID string
	OrgID  string
	Role   models.UserRole
	Scopes []string
	Nonce  string
}

// JWTService signs and verifies HS256 tokens.
type JWTService struct {
	secret []byte
	expiry time.Duration
}

func NewJWTService(secret string, expiry time.Duration) *JWTService {
	if expiry <= 0 {
		expiry = defaultTokenExpiry
	}
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

type tokenClaims struct {
	OrgID  string   `json:"org,omitempty"`
	Role   string   `json:"role,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	Nonce  string   `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for the user. The nonce, when set,
// binds the token to a single gateway handshake.
func (s *JWTService) Generate(user *models.User, scopes []string, nonce string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("user id required")
	}
	now := time.Now()
	claims := tokenClaims{
		OrgID:  user.OrgID,
		Role:   string(user.Role),
		Scopes: scopes,
		Nonce:  nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses a token and returns the identity embedded in it.
func (s *JWTService) Validate(token string) (*Identity, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrAuthDisabled
	}
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{
		UserID: claims.Subject,
		OrgID:  claims.OrgID,
		Role:   models.UserRole(claims.Role),
		Scopes: claims.Scopes,
		Nonce:  claims.Nonce,
	}, nil
}
