package models

import "time"

// ExecutionStatus is the state of a node execution request. Transitions
// follow the approval state machine: pending may move to approved (auto),
// pending_approval (review), or rejected (capability failure); approved moves
// through in_progress to completed or failed. Rejected, failed, completed,
// and canceled are terminal.
type ExecutionStatus string

const (
	ExecutionPending         ExecutionStatus = "pending"
	ExecutionPendingApproval ExecutionStatus = "pending_approval"
	ExecutionApproved        ExecutionStatus = "approved"
	ExecutionRejected        ExecutionStatus = "rejected"
	ExecutionInProgress      ExecutionStatus = "in_progress"
	ExecutionCompleted       ExecutionStatus = "completed"
	ExecutionFailed          ExecutionStatus = "failed"
	ExecutionCanceled        ExecutionStatus = "canceled"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionRejected, ExecutionCompleted, ExecutionFailed, ExecutionCanceled:
		return true
	}
	return false
}

// RiskLevel classifies how dangerous a command is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// NodeExecution is a command execution requested by a connected node.
type NodeExecution struct {
	ID               string            `json:"id"`
	ConnectionID     string            `json:"connection_id"`
	NodeID           string            `json:"node_id"`
	NodeName         string            `json:"node_name,omitempty"`
	Command          string            `json:"command"`
	Params           map[string]any    `json:"params,omitempty"`
	WorkingDir       string            `json:"working_dir,omitempty"`
	EnvVars          map[string]string `json:"env_vars,omitempty"`
	Status           ExecutionStatus   `json:"status"`
	RequiresApproval bool              `json:"requires_approval"`
	ApprovedBy       string            `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time        `json:"approved_at,omitempty"`
	RejectionReason  string            `json:"rejection_reason,omitempty"`
	ExitCode         *int              `json:"exit_code,omitempty"`
	Stdout           string            `json:"stdout,omitempty"`
	Stderr           string            `json:"stderr,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ApprovalStatus is the state of an approval queue entry.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// NodeApproval is an operator-facing queue entry for a pending execution.
// Entries expire after 24 hours; expired entries cannot be approved.
type NodeApproval struct {
	ID               string         `json:"id"`
	ExecutionID      string         `json:"execution_id"`
	Command          string         `json:"command"`
	ParamsSummary    string         `json:"params_summary,omitempty"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	Status           ApprovalStatus `json:"status"`
	ExpiresAt        time.Time      `json:"expires_at"`
	AutoApproved     bool           `json:"auto_approved"`
	AutoApprovalRule string         `json:"auto_approval_rule,omitempty"`
	DecidedBy        string         `json:"decided_by,omitempty"`
	DecidedAt        *time.Time     `json:"decided_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
