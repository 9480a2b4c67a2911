package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/primehq/prime/pkg/models"
)

const executionColumns = `id, connection_id, node_id, node_name, command, params, working_dir, env_vars,
	status, requires_approval, approved_by, approved_at, rejection_reason, exit_code, stdout, stderr,
	error_message, idempotency_key, created_at, updated_at`

func scanExecution(row interface{ Scan(...any) error }) (*models.NodeExecution, error) {
	var exec models.NodeExecution
	var status string
	var params, envVars []byte
	var approvedAt sql.NullTime
	var exitCode sql.NullInt64
	if err := row.Scan(&exec.ID, &exec.ConnectionID, &exec.NodeID, &exec.NodeName, &exec.Command,
		&params, &exec.WorkingDir, &envVars, &status, &exec.RequiresApproval, &exec.ApprovedBy,
		&approvedAt, &exec.RejectionReason, &exitCode, &exec.Stdout, &exec.Stderr,
		&exec.ErrorMessage, &exec.IdempotencyKey, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
		return nil, err
	}
	exec.Status = models.ExecutionStatus(status)
	if err := unmarshalJSON(params, &exec.Params); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(envVars, &exec.EnvVars); err != nil {
		return nil, err
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		exec.ApprovedAt = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		exec.ExitCode = &code
	}
	return &exec, nil
}

// CreateExecution inserts an execution request.
func (s *Store) CreateExecution(ctx context.Context, exec *models.NodeExecution) error {
	params, err := marshalJSON(exec.Params, "{}")
	if err != nil {
		return err
	}
	envVars, err := marshalJSON(exec.EnvVars, "{}")
	if err != nil {
		return err
	}
	var exitCode any
	if exec.ExitCode != nil {
		exitCode = *exec.ExitCode
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_executions (`+executionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		exec.ID, exec.ConnectionID, exec.NodeID, exec.NodeName, exec.Command, params, exec.WorkingDir,
		envVars, string(exec.Status), exec.RequiresApproval, exec.ApprovedBy, nullableTime(exec.ApprovedAt),
		exec.RejectionReason, exitCode, exec.Stdout, exec.Stderr, exec.ErrorMessage, exec.IdempotencyKey,
		exec.CreatedAt, exec.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create execution: %w", err)
	}
	return nil
}

// GetExecution fetches an execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*models.NodeExecution, error) {
	exec, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM node_executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get execution: %w", err)
	}
	return exec, nil
}

// UpdateExecution rewrites an execution's mutable fields.
func (s *Store) UpdateExecution(ctx context.Context, exec *models.NodeExecution) error {
	var exitCode any
	if exec.ExitCode != nil {
		exitCode = *exec.ExitCode
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE node_executions SET status = ?, requires_approval = ?, approved_by = ?, approved_at = ?,
		 rejection_reason = ?, exit_code = ?, stdout = ?, stderr = ?, error_message = ?, updated_at = ?
		 WHERE id = ?`,
		string(exec.Status), exec.RequiresApproval, exec.ApprovedBy, nullableTime(exec.ApprovedAt),
		exec.RejectionReason, exitCode, exec.Stdout, exec.Stderr, exec.ErrorMessage, exec.UpdatedAt, exec.ID)
	if err != nil {
		return fmt.Errorf("storage: update execution: %w", err)
	}
	return rowsAffected(res, "update execution")
}

// ListExecutions returns executions in a given state, newest first.
// An empty status lists everything.
func (s *Store) ListExecutions(ctx context.Context, status models.ExecutionStatus, limit int) ([]*models.NodeExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + executionColumns + ` FROM node_executions ORDER BY created_at DESC LIMIT ?`
	args := []any{limit}
	if status != "" {
		query = `SELECT ` + executionColumns + ` FROM node_executions WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []any{string(status), limit}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.NodeExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list executions: %w", err)
	}
	return execs, nil
}

const approvalColumns = `id, execution_id, command, params_summary, risk_level, status, expires_at,
	auto_approved, auto_approval_rule, decided_by, decided_at, created_at`

func scanApproval(row interface{ Scan(...any) error }) (*models.NodeApproval, error) {
	var approval models.NodeApproval
	var risk, status string
	var decidedAt sql.NullTime
	if err := row.Scan(&approval.ID, &approval.ExecutionID, &approval.Command, &approval.ParamsSummary,
		&risk, &status, &approval.ExpiresAt, &approval.AutoApproved, &approval.AutoApprovalRule,
		&approval.DecidedBy, &decidedAt, &approval.CreatedAt); err != nil {
		return nil, err
	}
	approval.RiskLevel = models.RiskLevel(risk)
	approval.Status = models.ApprovalStatus(status)
	if decidedAt.Valid {
		t := decidedAt.Time
		approval.DecidedAt = &t
	}
	return &approval, nil
}

// CreateApproval inserts an operator queue entry.
func (s *Store) CreateApproval(ctx context.Context, approval *models.NodeApproval) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_approvals (`+approvalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		approval.ID, approval.ExecutionID, approval.Command, approval.ParamsSummary,
		string(approval.RiskLevel), string(approval.Status), approval.ExpiresAt,
		approval.AutoApproved, approval.AutoApprovalRule, approval.DecidedBy,
		nullableTime(approval.DecidedAt), approval.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create approval: %w", err)
	}
	return nil
}

// GetApproval fetches a queue entry by id.
func (s *Store) GetApproval(ctx context.Context, id string) (*models.NodeApproval, error) {
	approval, err := scanApproval(s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM node_approvals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get approval: %w", err)
	}
	return approval, nil
}

// DecideApproval flips a pending, unexpired entry to the given status.
// The guarded update is what makes concurrent decisions race-free.
func (s *Store) DecideApproval(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, decidedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE node_approvals SET status = ?, decided_by = ?, decided_at = ?
		 WHERE id = ? AND status = ? AND expires_at > ?`,
		string(status), decidedBy, decidedAt, id, string(models.ApprovalPending), decidedAt)
	if err != nil {
		return false, fmt.Errorf("storage: decide approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: decide approval rows affected: %w", err)
	}
	return n > 0, nil
}

// ListPendingApprovals returns the open operator queue, oldest first.
func (s *Store) ListPendingApprovals(ctx context.Context) ([]*models.NodeApproval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM node_approvals WHERE status = ? ORDER BY created_at ASC`,
		string(models.ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("storage: list pending approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*models.NodeApproval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list pending approvals: %w", err)
	}
	return approvals, nil
}

// ExpireApprovals marks pending entries past the cutoff expired.
func (s *Store) ExpireApprovals(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE node_approvals SET status = ? WHERE status = ? AND expires_at <= ?`,
		string(models.ApprovalExpired), string(models.ApprovalPending), cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: expire approvals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: expire approvals rows affected: %w", err)
	}
	return n, nil
}
