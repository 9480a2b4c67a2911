package nodes

import (
	"context"
	"testing"
)

func TestRegistryConnectLifecycle(t *testing.T) {
	r := NewRegistry()
	r.Register(&Node{ID: "n1", Name: "laptop", Capabilities: []string{"exec"}})

	if err := r.Connect("n1", "conn-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	node := r.Get("n1")
	if node.Status != StatusOnline || node.ConnectionID != "conn-1" {
		t.Fatalf("node after connect: %+v", node)
	}
	if node.LastSeenAt == nil {
		t.Fatal("LastSeenAt not set")
	}

	r.Disconnect("n1")
	node = r.Get("n1")
	if node.Status != StatusOffline || node.ConnectionID != "" {
		t.Fatalf("node after disconnect: %+v", node)
	}
}

func TestRegistryConnectUnknownNode(t *testing.T) {
	r := NewRegistry()
	if err := r.Connect("ghost", "c"); err == nil {
		t.Fatal("expected error for unknown node")
	}
}

func TestRegistryRevokeBlocksConnectAndCapabilities(t *testing.T) {
	r := NewRegistry()
	r.Register(&Node{ID: "n1", Name: "laptop", Capabilities: []string{"exec", "exec.high"}})
	r.Revoke("n1")

	if err := r.Connect("n1", "c"); err == nil {
		t.Fatal("revoked node must not connect")
	}
	caps, err := r.Capabilities(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if len(caps) != 0 {
		t.Fatalf("revoked node capabilities = %v", caps)
	}
}

func TestRegistryListSortedByName(t *testing.T) {
	r := NewRegistry()
	r.Register(&Node{ID: "b", Name: "beta"})
	r.Register(&Node{ID: "a", Name: "alpha"})

	list := r.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "beta" {
		t.Fatalf("list order: %v, %v", list[0].Name, list[1].Name)
	}
}

func TestRegistryCapabilitiesCopies(t *testing.T) {
	r := NewRegistry()
	r.Register(&Node{ID: "n1", Name: "x", Capabilities: []string{"exec"}})
	caps, _ := r.Capabilities(context.Background(), "n1")
	caps[0] = "mutated"
	again, _ := r.Capabilities(context.Background(), "n1")
	if again[0] != "exec" {
		t.Fatal("Capabilities must return a copy")
	}
}
