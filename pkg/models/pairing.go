package models

import "time"

// PairingStatus is the state of a pairing request.
type PairingStatus string

const (
	PairingPending  PairingStatus = "pending"
	PairingApproved PairingStatus = "approved"
	PairingDenied   PairingStatus = "denied"
	PairingExpired  PairingStatus = "expired"
)

// PairingRequest asks an operator to grant a (channel, account, peer) DM
// access to an agent. Resolved via /approve or /deny.
type PairingRequest struct {
	ID         string        `json:"id"`
	AgentID    string        `json:"agent_id"`
	Channel    ChannelType   `json:"channel"`
	AccountID  string        `json:"account_id,omitempty"`
	Peer       string        `json:"peer"`
	SenderName string        `json:"sender_name,omitempty"`
	Code       string        `json:"code"`
	Status     PairingStatus `json:"status"`
	ExpiresAt  time.Time     `json:"expires_at"`
	CreatedAt  time.Time     `json:"created_at"`
}

// PairedDevice records a granted pairing until it is revoked.
type PairedDevice struct {
	ID        string      `json:"id"`
	AgentID   string      `json:"agent_id"`
	Channel   ChannelType `json:"channel"`
	AccountID string      `json:"account_id,omitempty"`
	Peer      string      `json:"peer"`
	PairedAt  time.Time   `json:"paired_at"`
	RevokedAt *time.Time  `json:"revoked_at,omitempty"`
}

// DeviceAuthStatus is the state of an OAuth device-code grant.
type DeviceAuthStatus string

const (
	DeviceAuthPending  DeviceAuthStatus = "pending"
	DeviceAuthApproved DeviceAuthStatus = "approved"
	DeviceAuthConsumed DeviceAuthStatus = "consumed"
	DeviceAuthDenied   DeviceAuthStatus = "denied"
	DeviceAuthExpired  DeviceAuthStatus = "expired"
)

// DeviceAuthRequest is the server-side state of an OAuth device-code flow.
type DeviceAuthRequest struct {
	ID              string           `json:"id"`
	DeviceCodeHash  string           `json:"-"`
	UserCode        string           `json:"user_code"`
	UserID          string           `json:"user_id,omitempty"`
	Status          DeviceAuthStatus `json:"status"`
	IntervalSeconds int              `json:"interval_seconds"`
	ExpiresAt       time.Time        `json:"expires_at"`
	CreatedAt       time.Time        `json:"created_at"`
}
