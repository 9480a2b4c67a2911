package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/internal/bus"
	"github.com/primehq/prime/pkg/models"
)

// ApprovalTTL is how long a queue entry stays actionable.
const ApprovalTTL = 24 * time.Hour

var (
	// ErrCapabilityDenied rejects requests the node is not allowed to run.
	ErrCapabilityDenied = errors.New("nodes: capability denied")

	// ErrNotApprovable marks decisions on entries that are expired or
	// already decided.
	ErrNotApprovable = errors.New("nodes: approval entry not actionable")

	// ErrNotRunnable marks run attempts on executions that are not in
	// the approved state.
	ErrNotRunnable = errors.New("nodes: execution not runnable")
)

// ExecutionStore persists execution requests.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *models.NodeExecution) error
	GetExecution(ctx context.Context, id string) (*models.NodeExecution, error)
	UpdateExecution(ctx context.Context, exec *models.NodeExecution) error
	ListExecutions(ctx context.Context, status models.ExecutionStatus, limit int) ([]*models.NodeExecution, error)
}

// ApprovalStore persists the operator queue.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, approval *models.NodeApproval) error
	GetApproval(ctx context.Context, id string) (*models.NodeApproval, error)
	// DecideApproval flips a pending, unexpired entry to the given
	// status atomically. It returns false when the entry was already
	// decided or has expired.
	DecideApproval(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, decidedAt time.Time) (bool, error)
	ListPendingApprovals(ctx context.Context) ([]*models.NodeApproval, error)
	ExpireApprovals(ctx context.Context, cutoff time.Time) (int64, error)
}

// NodeDirectory resolves a node's capability set.
type NodeDirectory interface {
	Capabilities(ctx context.Context, nodeID string) ([]string, error)
}

// Config tunes the approval decision.
type Config struct {
	// AutoApproveAll skips the queue entirely.
	AutoApproveAll bool

	// TrustedCommands is the first-token allowlist consulted for
	// trusted nodes running low-risk commands.
	TrustedCommands []string

	// AutoApproveRules are regexes; a full-command match auto-approves
	// low and medium risk requests.
	AutoApproveRules []string
}

// DefaultTrustedCommands is the baseline allowlist for trusted nodes.
var DefaultTrustedCommands = []string{
	"ls", "cat", "echo", "pwd", "date", "uptime", "whoami", "df", "du", "ps", "uname", "hostname",
}

// Service owns the execution lifecycle.
type Service struct {
	executions ExecutionStore
	approvals  ApprovalStore
	directory  NodeDirectory
	sandbox    Sandbox
	events     *bus.Bus
	cfg        Config
	rules      []*regexp.Regexp
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures optional service dependencies.
type Option func(*Service)

// WithSandbox replaces the default shell sandbox.
func WithSandbox(s Sandbox) Option {
	return func(svc *Service) { svc.sandbox = s }
}

// WithEvents attaches the event bus.
func WithEvents(b *bus.Bus) Option {
	return func(svc *Service) { svc.events = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

// NewService assembles the node execution service.
func NewService(executions ExecutionStore, approvals ApprovalStore, directory NodeDirectory, cfg Config, opts ...Option) *Service {
	if len(cfg.TrustedCommands) == 0 {
		cfg.TrustedCommands = DefaultTrustedCommands
	}
	svc := &Service{
		executions: executions,
		approvals:  approvals,
		directory:  directory,
		sandbox:    ShellSandbox{},
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, rule := range cfg.AutoApproveRules {
		re, err := regexp.Compile(rule)
		if err != nil {
			slog.Default().Warn("skipping invalid auto-approve rule", "rule", rule, "error", err)
			continue
		}
		svc.rules = append(svc.rules, re)
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = svc.logger.With("component", "nodes")
	return svc
}

// Request classifies, authorizes, and either approves or queues one
// execution. The returned execution's status tells the caller what
// happened: approved, pending_approval, or rejected.
func (s *Service) Request(ctx context.Context, exec *models.NodeExecution) (*models.NodeExecution, error) {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	now := s.now()
	exec.CreatedAt = now
	exec.UpdatedAt = now
	exec.Status = models.ExecutionPending

	risk := ClassifyRisk(exec.Command, paramArgs(exec.Params))

	caps, err := s.directory.Capabilities(ctx, exec.NodeID)
	if err != nil {
		return nil, fmt.Errorf("resolve capabilities: %w", err)
	}
	if !CapabilityAuthorizes(caps, risk) {
		exec.Status = models.ExecutionRejected
		exec.RejectionReason = fmt.Sprintf("node lacks capability for %s risk", risk)
		if err := s.executions.CreateExecution(ctx, exec); err != nil {
			return nil, err
		}
		s.publish(bus.TopicNodeRejected, exec, risk)
		return exec, ErrCapabilityDenied
	}

	approved, rule := s.autoApprove(exec, caps, risk)
	if approved {
		exec.Status = models.ExecutionApproved
		exec.RequiresApproval = false
		if err := s.executions.CreateExecution(ctx, exec); err != nil {
			return nil, err
		}
		s.logger.Info("execution auto-approved",
			"execution_id", exec.ID,
			"node_id", exec.NodeID,
			"risk", risk,
			"rule", rule)
		s.publish(bus.TopicNodeApproved, exec, risk)
		return exec, nil
	}

	exec.Status = models.ExecutionPendingApproval
	exec.RequiresApproval = true
	if err := s.executions.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	approval := &models.NodeApproval{
		ID:            uuid.NewString(),
		ExecutionID:   exec.ID,
		Command:       exec.Command,
		ParamsSummary: paramArgs(exec.Params),
		RiskLevel:     risk,
		Status:        models.ApprovalPending,
		ExpiresAt:     now.Add(ApprovalTTL),
		CreatedAt:     now,
	}
	if err := s.approvals.CreateApproval(ctx, approval); err != nil {
		return nil, err
	}
	s.logger.Info("execution queued for approval",
		"execution_id", exec.ID,
		"approval_id", approval.ID,
		"risk", risk)
	s.publish(bus.TopicNodePendingApproval, exec, risk)
	return exec, nil
}

// autoApprove returns whether the request skips the queue and which
// rule fired.
func (s *Service) autoApprove(exec *models.NodeExecution, caps []string, risk models.RiskLevel) (bool, string) {
	if s.cfg.AutoApproveAll {
		return true, "auto_approve_all"
	}
	if risk == models.RiskHigh || risk == models.RiskCritical {
		return false, ""
	}
	if hasCapability(caps, CapAutoApprove) {
		return true, "auto_approve_capability"
	}
	if risk == models.RiskLow && hasCapability(caps, CapTrusted) {
		first := firstToken(exec.Command)
		for _, trusted := range s.cfg.TrustedCommands {
			if first == trusted {
				return true, "trusted_command"
			}
		}
	}
	line := strings.TrimSpace(exec.Command + " " + paramArgs(exec.Params))
	for _, re := range s.rules {
		if re.MatchString(line) {
			return true, "custom_rule:" + re.String()
		}
	}
	return false, ""
}

// Approve flips a queue entry and its execution to approved. Expired
// or already-decided entries return ErrNotApprovable.
func (s *Service) Approve(ctx context.Context, approvalID, decidedBy string) (*models.NodeExecution, error) {
	return s.decide(ctx, approvalID, decidedBy, "", models.ApprovalApproved)
}

// Reject flips a queue entry and its execution to rejected.
func (s *Service) Reject(ctx context.Context, approvalID, decidedBy, reason string) (*models.NodeExecution, error) {
	return s.decide(ctx, approvalID, decidedBy, reason, models.ApprovalRejected)
}

func (s *Service) decide(ctx context.Context, approvalID, decidedBy, reason string, status models.ApprovalStatus) (*models.NodeExecution, error) {
	approval, err := s.approvals.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return nil, fmt.Errorf("nodes: approval %s not found", approvalID)
	}
	now := s.now()
	if now.After(approval.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired at %s", ErrNotApprovable, approval.ExpiresAt.Format(time.RFC3339))
	}

	flipped, err := s.approvals.DecideApproval(ctx, approvalID, status, decidedBy, now)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, ErrNotApprovable
	}

	exec, err := s.executions.GetExecution(ctx, approval.ExecutionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("nodes: execution %s not found", approval.ExecutionID)
	}

	exec.UpdatedAt = now
	if status == models.ApprovalApproved {
		exec.Status = models.ExecutionApproved
		exec.ApprovedBy = decidedBy
		exec.ApprovedAt = &now
	} else {
		exec.Status = models.ExecutionRejected
		exec.RejectionReason = reason
	}
	if err := s.executions.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	topic := bus.TopicNodeApproved
	if status == models.ApprovalRejected {
		topic = bus.TopicNodeRejected
	}
	s.publish(topic, exec, approval.RiskLevel)
	return exec, nil
}

// Run executes an approved request through the sandbox and records
// the outcome.
func (s *Service) Run(ctx context.Context, executionID string) (*models.NodeExecution, error) {
	exec, err := s.executions.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("nodes: execution %s not found", executionID)
	}
	if exec.Status != models.ExecutionApproved {
		return nil, fmt.Errorf("%w: status %s", ErrNotRunnable, exec.Status)
	}

	exec.Status = models.ExecutionInProgress
	exec.UpdatedAt = s.now()
	if err := s.executions.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	s.publish(bus.TopicNodeStarted, exec, "")

	line := strings.TrimSpace(exec.Command + " " + paramArgs(exec.Params))
	exitCode, stdout, stderr, runErr := s.sandbox.Execute(ctx, line, exec.WorkingDir, exec.EnvVars)

	exec.UpdatedAt = s.now()
	exec.ExitCode = &exitCode
	exec.Stdout = stdout
	exec.Stderr = stderr
	switch {
	case runErr != nil:
		exec.Status = models.ExecutionFailed
		exec.ErrorMessage = runErr.Error()
	case exitCode == 0:
		exec.Status = models.ExecutionCompleted
	default:
		exec.Status = models.ExecutionFailed
	}
	if err := s.executions.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	topic := bus.TopicNodeCompleted
	if exec.Status == models.ExecutionFailed {
		topic = bus.TopicNodeFailed
	}
	s.publish(topic, exec, "")
	return exec, nil
}

// PendingApprovals lists the actionable queue.
func (s *Service) PendingApprovals(ctx context.Context) ([]*models.NodeApproval, error) {
	return s.approvals.ListPendingApprovals(ctx)
}

// Status returns one execution.
func (s *Service) Status(ctx context.Context, executionID string) (*models.NodeExecution, error) {
	return s.executions.GetExecution(ctx, executionID)
}

// ExpireStale marks overdue queue entries expired. Intended to run
// periodically.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.approvals.ExpireApprovals(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired stale approvals", "count", n)
	}
	return n, nil
}

func (s *Service) publish(topic string, exec *models.NodeExecution, risk models.RiskLevel) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"execution_id": exec.ID,
		"node_id":      exec.NodeID,
		"command":      exec.Command,
		"status":       string(exec.Status),
	}
	if risk != "" {
		payload["risk"] = string(risk)
	}
	s.events.Publish(topic, payload)
}

func paramArgs(params map[string]any) string {
	if params == nil {
		return ""
	}
	if args, ok := params["args"].(string); ok {
		return args
	}
	return ""
}

func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
