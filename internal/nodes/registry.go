package nodes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// NodeStatus is the connection state of a registered node.
type NodeStatus string

const (
	StatusOnline  NodeStatus = "online"
	StatusOffline NodeStatus = "offline"
	StatusRevoked NodeStatus = "revoked"
)

// Node is a registered execution endpoint: a server, workstation, or
// edge daemon that holds capabilities and runs approved commands.
type Node struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Capabilities []string          `json:"capabilities"`
	Status       NodeStatus        `json:"status"`
	ConnectionID string            `json:"connection_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastSeenAt   *time.Time        `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Registry tracks nodes and their live connections. It implements
// NodeDirectory for the execution service.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]*Node),
		now:   time.Now,
	}
}

// Register adds or replaces a node record.
func (r *Registry) Register(node *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now
	if node.Status == "" {
		node.Status = StatusOffline
	}
	r.nodes[node.ID] = node
}

// Connect marks a node online under the given connection.
func (r *Registry) Connect(nodeID, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("nodes: unknown node %s", nodeID)
	}
	if node.Status == StatusRevoked {
		return fmt.Errorf("nodes: node %s is revoked", nodeID)
	}
	now := r.now()
	node.Status = StatusOnline
	node.ConnectionID = connectionID
	node.LastSeenAt = &now
	node.UpdatedAt = now
	return nil
}

// Disconnect marks a node offline.
func (r *Registry) Disconnect(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	now := r.now()
	node.Status = StatusOffline
	node.ConnectionID = ""
	node.LastSeenAt = &now
	node.UpdatedAt = now
}

// Revoke permanently bars a node from connecting.
func (r *Registry) Revoke(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if node, ok := r.nodes[nodeID]; ok {
		node.Status = StatusRevoked
		node.ConnectionID = ""
		node.UpdatedAt = r.now()
	}
}

// Get returns one node, or nil.
func (r *Registry) Get(nodeID string) *Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[nodeID]
}

// List returns all nodes sorted by name.
func (r *Registry) List() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Capabilities resolves a node's capability set for the execution
// service. Revoked and unknown nodes hold no capabilities.
func (r *Registry) Capabilities(ctx context.Context, nodeID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("nodes: unknown node %s", nodeID)
	}
	if node.Status == StatusRevoked {
		return nil, nil
	}
	caps := make([]string, len(node.Capabilities))
	copy(caps, node.Capabilities)
	return caps, nil
}
