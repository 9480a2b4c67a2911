package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/pkg/models"
)

// Device flow errors mirror RFC 8628 token endpoint responses.
var (
	ErrAuthorizationPending = errors.New("authorization_pending")
	ErrAccessDenied         = errors.New("access_denied")
	ErrDeviceExpired        = errors.New("expired_token")
)

const (
	deviceFlowExpiry   = 10 * time.Minute
	devicePollInterval = 5 * time.Second
	refreshTokenExpiry = 30 * 24 * time.Hour

	// RefreshScope marks a token as usable only at the refresh endpoint.
	RefreshScope = "auth.refresh"
)

// User codes avoid ambiguous characters so they survive being read aloud.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ23456789"

// DeviceStore persists device-code grants.
type DeviceStore interface {
	CreateDeviceAuth(ctx context.Context, req *models.DeviceAuthRequest) error
	GetDeviceAuthByUserCode(ctx context.Context, userCode string) (*models.DeviceAuthRequest, error)
	GetDeviceAuthByDeviceHash(ctx context.Context, deviceCodeHash string) (*models.DeviceAuthRequest, error)
	UpdateDeviceAuth(ctx context.Context, req *models.DeviceAuthRequest) error
}

// DeviceFlow runs the OAuth device-code grant: a CLI starts a flow,
// the operator approves the user code in the dashboard, and the CLI
// polls the token endpoint until the grant resolves.
type DeviceFlow struct {
	store DeviceStore
	svc   *Service

	now func() time.Time
}

func NewDeviceFlow(store DeviceStore, svc *Service) *DeviceFlow {
	return &DeviceFlow{store: store, svc: svc, now: time.Now}
}

// DeviceGrant is returned from Start; the device code never leaves the
// client and only its hash is stored.
type DeviceGrant struct {
	DeviceCode      string    `json:"device_code"`
	UserCode        string    `json:"user_code"`
	IntervalSeconds int       `json:"interval"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// TokenPair is the device flow's terminal result.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Start creates a pending grant and returns the codes.
func (f *DeviceFlow) Start(ctx context.Context) (*DeviceGrant, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate device code: %w", err)
	}
	deviceCode := hex.EncodeToString(raw)

	userCode, err := generateUserCode()
	if err != nil {
		return nil, err
	}

	req := &models.DeviceAuthRequest{
		ID:              uuid.NewString(),
		DeviceCodeHash:  HashSecret(deviceCode),
		UserCode:        userCode,
		Status:          models.DeviceAuthPending,
		IntervalSeconds: int(devicePollInterval.Seconds()),
		ExpiresAt:       f.now().Add(deviceFlowExpiry),
		CreatedAt:       f.now(),
	}
	if err := f.store.CreateDeviceAuth(ctx, req); err != nil {
		return nil, err
	}
	return &DeviceGrant{
		DeviceCode:      deviceCode,
		UserCode:        req.UserCode,
		IntervalSeconds: req.IntervalSeconds,
		ExpiresAt:       req.ExpiresAt,
	}, nil
}

// Complete resolves a pending grant: the operator approves or denies
// the user code on behalf of userID.
func (f *DeviceFlow) Complete(ctx context.Context, userCode, userID string, approve bool) error {
	req, err := f.store.GetDeviceAuthByUserCode(ctx, userCode)
	if err != nil || req == nil {
		return ErrInvalidCredentials
	}
	if req.Status != models.DeviceAuthPending {
		return fmt.Errorf("grant already %s", req.Status)
	}
	if f.now().After(req.ExpiresAt) {
		req.Status = models.DeviceAuthExpired
		_ = f.store.UpdateDeviceAuth(ctx, req)
		return ErrDeviceExpired
	}
	if approve {
		req.Status = models.DeviceAuthApproved
		req.UserID = userID
	} else {
		req.Status = models.DeviceAuthDenied
	}
	return f.store.UpdateDeviceAuth(ctx, req)
}

// Token exchanges an approved device code for tokens. Pending grants
// return ErrAuthorizationPending so the client keeps polling; a
// successful exchange consumes the grant.
func (f *DeviceFlow) Token(ctx context.Context, deviceCode string) (*TokenPair, error) {
	req, err := f.store.GetDeviceAuthByDeviceHash(ctx, HashSecret(deviceCode))
	if err != nil || req == nil {
		return nil, ErrInvalidCredentials
	}
	if f.now().After(req.ExpiresAt) && req.Status == models.DeviceAuthPending {
		req.Status = models.DeviceAuthExpired
		_ = f.store.UpdateDeviceAuth(ctx, req)
	}
	switch req.Status {
	case models.DeviceAuthPending:
		return nil, ErrAuthorizationPending
	case models.DeviceAuthDenied:
		return nil, ErrAccessDenied
	case models.DeviceAuthExpired, models.DeviceAuthConsumed:
		return nil, ErrDeviceExpired
	}

	user, err := f.svc.users.GetUser(ctx, req.UserID)
	if err != nil || user == nil {
		return nil, ErrInvalidCredentials
	}
	pair, err := f.issuePair(user)
	if err != nil {
		return nil, err
	}

	req.Status = models.DeviceAuthConsumed
	if err := f.store.UpdateDeviceAuth(ctx, req); err != nil {
		return nil, err
	}
	return pair, nil
}

// Refresh trades a refresh token for a fresh pair.
func (f *DeviceFlow) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	id, err := f.svc.ValidateToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if len(id.Scopes) != 1 || id.Scopes[0] != RefreshScope {
		return nil, ErrInvalidToken
	}
	user, err := f.svc.users.GetUser(ctx, id.UserID)
	if err != nil || user == nil {
		return nil, ErrInvalidCredentials
	}
	return f.issuePair(user)
}

func (f *DeviceFlow) issuePair(user *models.User) (*TokenPair, error) {
	access, err := f.svc.IssueToken(user, "")
	if err != nil {
		return nil, err
	}
	refreshJWT := NewJWTService(string(f.svc.jwt.secret), refreshTokenExpiry)
	refresh, err := refreshJWT.Generate(user, []string{RefreshScope}, "")
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func generateUserCode() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate user code: %w", err)
	}
	code := make([]byte, 0, 9)
	for i, b := range raw {
		if i == 4 {
			code = append(code, '-')
		}
		code = append(code, userCodeAlphabet[int(b)%len(userCodeAlphabet)])
	}
	return string(code), nil
}
