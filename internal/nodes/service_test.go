package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/primehq/prime/pkg/models"
)

type fakeSandbox struct {
	exitCode int
	stdout   string
	stderr   string
	err      error
	ran      []string
}

func (f *fakeSandbox) Execute(ctx context.Context, command, workingDir string, env map[string]string) (int, string, string, error) {
	f.ran = append(f.ran, command)
	return f.exitCode, f.stdout, f.stderr, f.err
}

func testService(t *testing.T, caps []string, cfg Config, sandbox Sandbox) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	reg := NewRegistry()
	reg.Register(&Node{ID: "node-1", Name: "worker", Capabilities: caps})
	opts := []Option{}
	if sandbox != nil {
		opts = append(opts, WithSandbox(sandbox))
	}
	return NewService(store, store, reg, cfg, opts...), store
}

func request(command string, args string) *models.NodeExecution {
	exec := &models.NodeExecution{
		NodeID:  "node-1",
		Command: command,
	}
	if args != "" {
		exec.Params = map[string]any{"args": args}
	}
	return exec
}

func TestRequestCapabilityDenied(t *testing.T) {
	svc, _ := testService(t, []string{"exec"}, Config{}, nil)

	exec, err := svc.Request(context.Background(), request("sudo reboot", ""))
	if !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("err = %v, want ErrCapabilityDenied", err)
	}
	if exec.Status != models.ExecutionRejected {
		t.Fatalf("status = %s", exec.Status)
	}
	if exec.RejectionReason == "" {
		t.Fatal("rejection reason missing")
	}
}

func TestRequestHighRiskQueues(t *testing.T) {
	svc, store := testService(t, []string{"exec", "exec.critical"}, Config{}, nil)

	exec, err := svc.Request(context.Background(), request("rm", "-rf /tmp/x"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if exec.Status != models.ExecutionPendingApproval {
		t.Fatalf("status = %s, want pending_approval", exec.Status)
	}
	if !exec.RequiresApproval {
		t.Fatal("RequiresApproval not set")
	}

	pending, err := svc.PendingApprovals(context.Background())
	if err != nil {
		t.Fatalf("PendingApprovals: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(pending))
	}
	if pending[0].ExecutionID != exec.ID {
		t.Fatal("approval not linked to execution")
	}
	if got := pending[0].ExpiresAt.Sub(pending[0].CreatedAt); got != ApprovalTTL {
		t.Fatalf("approval TTL = %v", got)
	}
	_ = store
}

func TestRequestLowRiskAutoApprovesForTrustedNode(t *testing.T) {
	svc, _ := testService(t, []string{"exec", "trusted"}, Config{}, nil)

	exec, err := svc.Request(context.Background(), request("ls -la", ""))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if exec.Status != models.ExecutionApproved {
		t.Fatalf("status = %s, want approved", exec.Status)
	}
}

func TestRequestLowRiskWithoutTrustQueues(t *testing.T) {
	svc, _ := testService(t, []string{"exec"}, Config{}, nil)

	exec, err := svc.Request(context.Background(), request("ls -la", ""))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if exec.Status != models.ExecutionPendingApproval {
		t.Fatalf("status = %s, want pending_approval", exec.Status)
	}
}

func TestRequestAutoApproveAllSkipsQueue(t *testing.T) {
	svc, _ := testService(t, []string{"exec", "exec.high"}, Config{AutoApproveAll: true}, nil)

	exec, err := svc.Request(context.Background(), request("sudo systemctl restart app", ""))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if exec.Status != models.ExecutionApproved {
		t.Fatalf("status = %s, want approved", exec.Status)
	}
}

func TestRequestCustomRuleAutoApproves(t *testing.T) {
	svc, _ := testService(t, []string{"exec"}, Config{AutoApproveRules: []string{`^git status`}}, nil)

	exec, err := svc.Request(context.Background(), request("git status", ""))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if exec.Status != models.ExecutionApproved {
		t.Fatalf("status = %s, want approved", exec.Status)
	}
}

func TestApproveThenRunCompletes(t *testing.T) {
	sandbox := &fakeSandbox{exitCode: 0, stdout: "done"}
	svc, _ := testService(t, []string{"exec", "exec.critical"}, Config{}, sandbox)

	exec, err := svc.Request(context.Background(), request("rm", "-rf /tmp/x"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	pending, _ := svc.PendingApprovals(context.Background())

	approved, err := svc.Approve(context.Background(), pending[0].ID, "operator@example.com")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != models.ExecutionApproved {
		t.Fatalf("status = %s", approved.Status)
	}
	if approved.ApprovedBy != "operator@example.com" || approved.ApprovedAt == nil {
		t.Fatalf("approval metadata missing: %+v", approved)
	}

	result, err := svc.Run(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.ExecutionCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if result.Stdout != "done" || result.ExitCode == nil || *result.ExitCode != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(sandbox.ran) != 1 || sandbox.ran[0] != "rm -rf /tmp/x" {
		t.Fatalf("sandbox ran %v", sandbox.ran)
	}
}

func TestRunNonZeroExitFails(t *testing.T) {
	sandbox := &fakeSandbox{exitCode: 2, stderr: "boom"}
	svc, _ := testService(t, []string{"exec", "auto_approve"}, Config{}, sandbox)

	exec, err := svc.Request(context.Background(), request("ls /nope", ""))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	result, err := svc.Run(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.ExecutionFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.Stderr != "boom" {
		t.Fatalf("stderr = %q", result.Stderr)
	}
}

func TestRunRequiresApprovedStatus(t *testing.T) {
	svc, _ := testService(t, []string{"exec", "exec.critical"}, Config{}, &fakeSandbox{})

	exec, err := svc.Request(context.Background(), request("rm", "-rf /tmp/x"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := svc.Run(context.Background(), exec.ID); !errors.Is(err, ErrNotRunnable) {
		t.Fatalf("err = %v, want ErrNotRunnable", err)
	}
}

func TestRejectRecordsReason(t *testing.T) {
	svc, _ := testService(t, []string{"exec", "exec.high"}, Config{}, nil)

	exec, err := svc.Request(context.Background(), request("sudo rm log", ""))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	pending, _ := svc.PendingApprovals(context.Background())

	rejected, err := svc.Reject(context.Background(), pending[0].ID, "op", "not during release week")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != models.ExecutionRejected {
		t.Fatalf("status = %s", rejected.Status)
	}
	if rejected.RejectionReason != "not during release week" {
		t.Fatalf("reason = %q", rejected.RejectionReason)
	}
	_ = exec
}

func TestDecideTwiceFails(t *testing.T) {
	svc, _ := testService(t, []string{"exec", "exec.high"}, Config{}, nil)

	if _, err := svc.Request(context.Background(), request("sudo ls", "")); err != nil {
		t.Fatalf("Request: %v", err)
	}
	pending, _ := svc.PendingApprovals(context.Background())

	if _, err := svc.Approve(context.Background(), pending[0].ID, "op"); err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	if _, err := svc.Approve(context.Background(), pending[0].ID, "op2"); !errors.Is(err, ErrNotApprovable) {
		t.Fatalf("second Approve err = %v, want ErrNotApprovable", err)
	}
}

func TestExpiredApprovalCannotBeApproved(t *testing.T) {
	svc, _ := testService(t, []string{"exec", "exec.high"}, Config{}, nil)
	base := time.Now()
	svc.now = func() time.Time { return base }

	if _, err := svc.Request(context.Background(), request("sudo ls", "")); err != nil {
		t.Fatalf("Request: %v", err)
	}
	pending, _ := svc.PendingApprovals(context.Background())

	svc.now = func() time.Time { return base.Add(ApprovalTTL + time.Hour) }
	if _, err := svc.Approve(context.Background(), pending[0].ID, "op"); !errors.Is(err, ErrNotApprovable) {
		t.Fatalf("err = %v, want ErrNotApprovable", err)
	}

	n, err := svc.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	left, _ := svc.PendingApprovals(context.Background())
	if len(left) != 0 {
		t.Fatalf("pending after expiry = %d", len(left))
	}
}
