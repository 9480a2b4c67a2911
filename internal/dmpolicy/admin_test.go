package dmpolicy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/primehq/prime/pkg/models"
)

type fakeAdminStore struct {
	requests map[string]*models.PairingRequest
	devices  []*models.PairedDevice
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{requests: make(map[string]*models.PairingRequest)}
}

func (s *fakeAdminStore) FindPairingByCode(_ context.Context, code string) (*models.PairingRequest, error) {
	for _, req := range s.requests {
		if req.Code == code {
			copied := *req
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeAdminStore) UpdatePairingStatus(_ context.Context, id string, status models.PairingStatus) (bool, error) {
	req, ok := s.requests[id]
	if !ok || req.Status != models.PairingPending {
		return false, nil
	}
	req.Status = status
	return true, nil
}

func (s *fakeAdminStore) CreatePairedDevice(_ context.Context, dev *models.PairedDevice) error {
	s.devices = append(s.devices, dev)
	return nil
}

func seedRequest(store *fakeAdminStore, code string, expiresAt time.Time) *models.PairingRequest {
	req := &models.PairingRequest{
		ID: "req-" + code, AgentID: "a1", Channel: models.ChannelTelegram,
		AccountID: "acct", Peer: "peer-1", Code: code,
		Status: models.PairingPending, ExpiresAt: expiresAt, CreatedAt: time.Now(),
	}
	store.requests[req.ID] = req
	return req
}

func TestAdminApproveGrantsDevice(t *testing.T) {
	store := newFakeAdminStore()
	seedRequest(store, "WXYZ2345", time.Now().Add(time.Hour))
	admin := NewAdmin(store, nil)

	req, err := admin.Approve(context.Background(), " wxyz2345 ")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if req.Status != models.PairingApproved {
		t.Fatalf("status = %s", req.Status)
	}
	if len(store.devices) != 1 {
		t.Fatalf("expected one paired device, got %d", len(store.devices))
	}
	dev := store.devices[0]
	if dev.AgentID != "a1" || dev.Peer != "peer-1" || dev.Channel != models.ChannelTelegram {
		t.Fatalf("device carries wrong tuple: %+v", dev)
	}

	if _, err := admin.Approve(context.Background(), "WXYZ2345"); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided on second approve, got %v", err)
	}
}

func TestAdminDenyLeavesNoGrant(t *testing.T) {
	store := newFakeAdminStore()
	seedRequest(store, "BCDF2345", time.Now().Add(time.Hour))
	admin := NewAdmin(store, nil)

	req, err := admin.Deny(context.Background(), "BCDF2345")
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if req.Status != models.PairingDenied {
		t.Fatalf("status = %s", req.Status)
	}
	if len(store.devices) != 0 {
		t.Fatal("deny must not pair the device")
	}
}

func TestAdminRejectsUnknownAndExpiredCodes(t *testing.T) {
	store := newFakeAdminStore()
	seedRequest(store, "GHJK2345", time.Now().Add(-time.Minute))
	admin := NewAdmin(store, nil)

	if _, err := admin.Approve(context.Background(), "NOPE"); !errors.Is(err, ErrCodeUnknown) {
		t.Fatalf("expected ErrCodeUnknown, got %v", err)
	}
	if _, err := admin.Approve(context.Background(), "GHJK2345"); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
	if len(store.devices) != 0 {
		t.Fatal("no device should be granted")
	}
}
