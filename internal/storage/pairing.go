package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/primehq/prime/pkg/models"
)

const pairingColumns = `id, agent_id, channel, account_id, peer, sender_name, code, status, expires_at, created_at`

func scanPairingRequest(row interface{ Scan(...any) error }) (*models.PairingRequest, error) {
	var req models.PairingRequest
	var channel, status string
	if err := row.Scan(&req.ID, &req.AgentID, &channel, &req.AccountID, &req.Peer, &req.SenderName,
		&req.Code, &status, &req.ExpiresAt, &req.CreatedAt); err != nil {
		return nil, err
	}
	req.Channel = models.ChannelType(channel)
	req.Status = models.PairingStatus(status)
	return &req, nil
}

// CreateRequest inserts a pairing request.
func (s *Store) CreateRequest(ctx context.Context, req *models.PairingRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pairing_requests (`+pairingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.AgentID, string(req.Channel), req.AccountID, req.Peer, req.SenderName,
		req.Code, string(req.Status), req.ExpiresAt, req.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create pairing request: %w", err)
	}
	return nil
}

// FindPending returns the newest pending request for the peer tuple,
// or nil when none exists.
func (s *Store) FindPending(ctx context.Context, agentID string, channel models.ChannelType, accountID, peer string) (*models.PairingRequest, error) {
	req, err := scanPairingRequest(s.db.QueryRowContext(ctx,
		`SELECT `+pairingColumns+` FROM pairing_requests
		 WHERE agent_id = ? AND channel = ? AND account_id = ? AND peer = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`,
		agentID, string(channel), accountID, peer, string(models.PairingPending)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find pending pairing: %w", err)
	}
	return req, nil
}

// FindPairingByCode resolves a pairing request by its redeemable code,
// or nil when unknown.
func (s *Store) FindPairingByCode(ctx context.Context, code string) (*models.PairingRequest, error) {
	req, err := scanPairingRequest(s.db.QueryRowContext(ctx,
		`SELECT `+pairingColumns+` FROM pairing_requests WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find pairing by code: %w", err)
	}
	return req, nil
}

// ListPairingRequests returns requests newest-first, optionally
// filtered by status.
func (s *Store) ListPairingRequests(ctx context.Context, status models.PairingStatus) ([]models.PairingRequest, error) {
	query := `SELECT ` + pairingColumns + ` FROM pairing_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list pairing requests: %w", err)
	}
	defer rows.Close()

	var out []models.PairingRequest
	for rows.Next() {
		req, err := scanPairingRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list pairing requests: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// UpdatePairingStatus flips a pending request to a decided state.
// Returns false when the request was already decided.
func (s *Store) UpdatePairingStatus(ctx context.Context, id string, status models.PairingStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pairing_requests SET status = ? WHERE id = ? AND status = ?`,
		string(status), id, string(models.PairingPending))
	if err != nil {
		return false, fmt.Errorf("storage: update pairing status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: update pairing status rows affected: %w", err)
	}
	return n > 0, nil
}

// CreatePairedDevice records a granted pairing.
func (s *Store) CreatePairedDevice(ctx context.Context, dev *models.PairedDevice) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO paired_devices (id, agent_id, channel, account_id, peer, paired_at, revoked_at) VALUES (?,?,?,?,?,?,?)`,
		dev.ID, dev.AgentID, string(dev.Channel), dev.AccountID, dev.Peer, dev.PairedAt, dev.RevokedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create paired device: %w", err)
	}
	return nil
}

// IsPaired reports whether the peer tuple holds an unrevoked grant.
func (s *Store) IsPaired(ctx context.Context, agentID string, channel models.ChannelType, accountID, peer string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM paired_devices
		 WHERE agent_id = ? AND channel = ? AND account_id = ? AND peer = ? AND revoked_at IS NULL`,
		agentID, string(channel), accountID, peer).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("storage: check pairing: %w", err)
	}
	return count > 0, nil
}

// RevokePairedDevice marks a grant revoked.
func (s *Store) RevokePairedDevice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE paired_devices SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("storage: revoke paired device: %w", err)
	}
	return rowsAffected(res, "revoke paired device")
}

const deviceAuthColumns = `id, device_code_hash, user_code, user_id, status, interval_seconds, expires_at, created_at`

func scanDeviceAuth(row interface{ Scan(...any) error }) (*models.DeviceAuthRequest, error) {
	var req models.DeviceAuthRequest
	var status string
	if err := row.Scan(&req.ID, &req.DeviceCodeHash, &req.UserCode, &req.UserID, &status,
		&req.IntervalSeconds, &req.ExpiresAt, &req.CreatedAt); err != nil {
		return nil, err
	}
	req.Status = models.DeviceAuthStatus(status)
	return &req, nil
}

// CreateDeviceAuth inserts a device-code grant.
func (s *Store) CreateDeviceAuth(ctx context.Context, req *models.DeviceAuthRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_auth_requests (`+deviceAuthColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		req.ID, req.DeviceCodeHash, req.UserCode, req.UserID, string(req.Status),
		req.IntervalSeconds, req.ExpiresAt, req.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create device auth: %w", err)
	}
	return nil
}

// GetDeviceAuthByUserCode resolves a grant by its human-readable code.
func (s *Store) GetDeviceAuthByUserCode(ctx context.Context, userCode string) (*models.DeviceAuthRequest, error) {
	req, err := scanDeviceAuth(s.db.QueryRowContext(ctx,
		`SELECT `+deviceAuthColumns+` FROM device_auth_requests WHERE user_code = ?`, userCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get device auth: %w", err)
	}
	return req, nil
}

// GetDeviceAuthByDeviceHash resolves a grant by its hashed device code.
func (s *Store) GetDeviceAuthByDeviceHash(ctx context.Context, deviceCodeHash string) (*models.DeviceAuthRequest, error) {
	req, err := scanDeviceAuth(s.db.QueryRowContext(ctx,
		`SELECT `+deviceAuthColumns+` FROM device_auth_requests WHERE device_code_hash = ?`, deviceCodeHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get device auth: %w", err)
	}
	return req, nil
}

// UpdateDeviceAuth rewrites a grant's status and owner.
func (s *Store) UpdateDeviceAuth(ctx context.Context, req *models.DeviceAuthRequest) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE device_auth_requests SET user_id = ?, status = ? WHERE id = ?`,
		req.UserID, string(req.Status), req.ID)
	if err != nil {
		return fmt.Errorf("storage: update device auth: %w", err)
	}
	return rowsAffected(res, "update device auth")
}
