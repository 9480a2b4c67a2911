package nodes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/primehq/prime/pkg/models"
)

// MemoryStore keeps executions and approvals in memory. It backs tests
// and single-process deployments; the sqlite store is the durable
// implementation.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*models.NodeExecution
	approvals  map[string]*models.NodeApproval
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*models.NodeExecution),
		approvals:  make(map[string]*models.NodeApproval),
	}
}

func (m *MemoryStore) CreateExecution(ctx context.Context, exec *models.NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *exec
	m.executions[exec.ID] = &cp
	return nil
}

func (m *MemoryStore) GetExecution(ctx context.Context, id string) (*models.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil, nil
	}
	cp := *exec
	return &cp, nil
}

func (m *MemoryStore) UpdateExecution(ctx context.Context, exec *models.NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *exec
	m.executions[exec.ID] = &cp
	return nil
}

func (m *MemoryStore) ListExecutions(ctx context.Context, status models.ExecutionStatus, limit int) ([]*models.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.NodeExecution
	for _, exec := range m.executions {
		if status != "" && exec.Status != status {
			continue
		}
		cp := *exec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateApproval(ctx context.Context, approval *models.NodeApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *approval
	m.approvals[approval.ID] = &cp
	return nil
}

func (m *MemoryStore) GetApproval(ctx context.Context, id string) (*models.NodeApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	approval, ok := m.approvals[id]
	if !ok {
		return nil, nil
	}
	cp := *approval
	return &cp, nil
}

func (m *MemoryStore) DecideApproval(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, decidedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	approval, ok := m.approvals[id]
	if !ok {
		return false, nil
	}
	if approval.Status != models.ApprovalPending || decidedAt.After(approval.ExpiresAt) {
		return false, nil
	}
	approval.Status = status
	approval.DecidedBy = decidedBy
	approval.DecidedAt = &decidedAt
	return true, nil
}

func (m *MemoryStore) ListPendingApprovals(ctx context.Context) ([]*models.NodeApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.NodeApproval
	for _, approval := range m.approvals {
		if approval.Status != models.ApprovalPending {
			continue
		}
		cp := *approval
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ExpireApprovals(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, approval := range m.approvals {
		if approval.Status == models.ApprovalPending && cutoff.After(approval.ExpiresAt) {
			approval.Status = models.ApprovalExpired
			n++
		}
	}
	return n, nil
}
