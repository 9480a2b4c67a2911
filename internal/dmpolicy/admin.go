package dmpolicy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/pkg/models"
)

var (
	// ErrCodeUnknown means no pairing request carries the code.
	ErrCodeUnknown = errors.New("dmpolicy: unknown pairing code")
	// ErrCodeExpired means the request is past its TTL.
	ErrCodeExpired = errors.New("dmpolicy: pairing code expired")
	// ErrAlreadyDecided means the request was approved or denied before.
	ErrAlreadyDecided = errors.New("dmpolicy: pairing request already decided")
)

// AdminStore is the slice of the relational store pairing resolution
// needs.
type AdminStore interface {
	FindPairingByCode(ctx context.Context, code string) (*models.PairingRequest, error)
	UpdatePairingStatus(ctx context.Context, id string, status models.PairingStatus) (bool, error)
	CreatePairedDevice(ctx context.Context, dev *models.PairedDevice) error
}

// Admin resolves pairing requests by code on behalf of an operator.
type Admin struct {
	store  AdminStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAdmin creates a pairing administrator.
func NewAdmin(store AdminStore, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{store: store, logger: logger, now: time.Now}
}

// Approve redeems a pairing code: the request is marked approved and
// the (channel, account, peer) tuple gains a durable grant.
func (a *Admin) Approve(ctx context.Context, code string) (*models.PairingRequest, error) {
	req, err := a.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	flipped, err := a.store.UpdatePairingStatus(ctx, req.ID, models.PairingApproved)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, ErrAlreadyDecided
	}
	dev := &models.PairedDevice{
		ID:        uuid.NewString(),
		AgentID:   req.AgentID,
		Channel:   req.Channel,
		AccountID: req.AccountID,
		Peer:      req.Peer,
		PairedAt:  a.now(),
	}
	if err := a.store.CreatePairedDevice(ctx, dev); err != nil {
		return nil, err
	}
	req.Status = models.PairingApproved
	a.logger.Info("pairing approved", "agent_id", req.AgentID, "channel", req.Channel, "peer", req.Peer)
	return req, nil
}

// Deny rejects a pairing code without granting access.
func (a *Admin) Deny(ctx context.Context, code string) (*models.PairingRequest, error) {
	req, err := a.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	flipped, err := a.store.UpdatePairingStatus(ctx, req.ID, models.PairingDenied)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, ErrAlreadyDecided
	}
	req.Status = models.PairingDenied
	a.logger.Info("pairing denied", "agent_id", req.AgentID, "channel", req.Channel, "peer", req.Peer)
	return req, nil
}

func (a *Admin) lookup(ctx context.Context, code string) (*models.PairingRequest, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrCodeUnknown
	}
	req, err := a.store.FindPairingByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrCodeUnknown
	}
	if req.Status != models.PairingPending {
		return nil, ErrAlreadyDecided
	}
	if a.now().After(req.ExpiresAt) {
		return nil, ErrCodeExpired
	}
	return req, nil
}
