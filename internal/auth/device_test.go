package auth

import (
	"context"
	"testing"
	"time"

	"github.com/primehq/prime/pkg/models"
)

type fakeDeviceStore struct {
	grants map[string]*models.DeviceAuthRequest
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{grants: make(map[string]*models.DeviceAuthRequest)}
}

func (s *fakeDeviceStore) CreateDeviceAuth(_ context.Context, req *models.DeviceAuthRequest) error {
	cp := *req
	s.grants[req.ID] = &cp
	return nil
}

func (s *fakeDeviceStore) GetDeviceAuthByUserCode(_ context.Context, userCode string) (*models.DeviceAuthRequest, error) {
	for _, g := range s.grants {
		if g.UserCode == userCode {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeDeviceStore) GetDeviceAuthByDeviceHash(_ context.Context, hash string) (*models.DeviceAuthRequest, error) {
	for _, g := range s.grants {
		if g.DeviceCodeHash == hash {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeDeviceStore) UpdateDeviceAuth(_ context.Context, req *models.DeviceAuthRequest) error {
	cp := *req
	s.grants[req.ID] = &cp
	return nil
}

func testDeviceFlow(t *testing.T) (*DeviceFlow, *fakeDeviceStore) {
	t.Helper()
	svc, _ := testService(t)
	store := newFakeDeviceStore()
	return NewDeviceFlow(store, svc), store
}

func TestDeviceFlowApproval(t *testing.T) {
	flow, _ := testDeviceFlow(t)
	ctx := context.Background()

	grant, err := flow.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(grant.UserCode) != 9 || grant.UserCode[4] != '-' {
		t.Fatalf("user code = %q", grant.UserCode)
	}

	if _, err := flow.Token(ctx, grant.DeviceCode); err != ErrAuthorizationPending {
		t.Fatalf("err = %v, want ErrAuthorizationPending", err)
	}

	if err := flow.Complete(ctx, grant.UserCode, "u1", true); err != nil {
		t.Fatalf("complete: %v", err)
	}

	pair, err := flow.Token(ctx, grant.DeviceCode)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "bearer" {
		t.Fatalf("pair = %+v", pair)
	}

	// A consumed grant cannot be exchanged twice.
	if _, err := flow.Token(ctx, grant.DeviceCode); err != ErrDeviceExpired {
		t.Fatalf("err = %v, want ErrDeviceExpired", err)
	}
}

func TestDeviceFlowDenial(t *testing.T) {
	flow, _ := testDeviceFlow(t)
	ctx := context.Background()

	grant, err := flow.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := flow.Complete(ctx, grant.UserCode, "u1", false); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := flow.Token(ctx, grant.DeviceCode); err != ErrAccessDenied {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestDeviceFlowExpiry(t *testing.T) {
	flow, _ := testDeviceFlow(t)
	ctx := context.Background()

	grant, err := flow.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	flow.now = func() time.Time { return time.Now().Add(deviceFlowExpiry + time.Minute) }

	if err := flow.Complete(ctx, grant.UserCode, "u1", true); err != ErrDeviceExpired {
		t.Fatalf("err = %v, want ErrDeviceExpired", err)
	}
	if _, err := flow.Token(ctx, grant.DeviceCode); err != ErrDeviceExpired {
		t.Fatalf("err = %v, want ErrDeviceExpired", err)
	}
}

func TestDeviceFlowRefresh(t *testing.T) {
	flow, _ := testDeviceFlow(t)
	ctx := context.Background()

	grant, err := flow.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := flow.Complete(ctx, grant.UserCode, "u1", true); err != nil {
		t.Fatalf("complete: %v", err)
	}
	pair, err := flow.Token(ctx, grant.DeviceCode)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	next, err := flow.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.AccessToken == "" {
		t.Fatal("refresh returned empty access token")
	}

	// Access tokens are not refresh tokens.
	if _, err := flow.Refresh(ctx, pair.AccessToken); err != ErrInvalidToken {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
