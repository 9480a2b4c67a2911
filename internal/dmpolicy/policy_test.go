package dmpolicy

import (
	"context"
	"testing"

	"github.com/primehq/prime/pkg/models"
)

type fakePairingStore struct {
	paired   map[string]bool
	pending  []*models.PairingRequest
	requests []*models.PairingRequest
}

func newFakePairingStore() *fakePairingStore {
	return &fakePairingStore{paired: make(map[string]bool)}
}

func pairKey(agentID string, channel models.ChannelType, account, peer string) string {
	return agentID + "|" + string(channel) + "|" + account + "|" + peer
}

func (f *fakePairingStore) FindPending(_ context.Context, agentID string, channel models.ChannelType, accountID, peer string) (*models.PairingRequest, error) {
	for _, req := range f.pending {
		if req.AgentID == agentID && req.Channel == channel && req.AccountID == accountID && req.Peer == peer {
			return req, nil
		}
	}
	return nil, nil
}

func (f *fakePairingStore) CreateRequest(_ context.Context, req *models.PairingRequest) error {
	f.pending = append(f.pending, req)
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakePairingStore) IsPaired(_ context.Context, agentID string, channel models.ChannelType, accountID, peer string) (bool, error) {
	return f.paired[pairKey(agentID, channel, accountID, peer)], nil
}

func testAgent(policy models.DMPolicy, allowed ...string) *models.Agent {
	return &models.Agent{
		ID:             "agent-1",
		DMPolicy:       policy,
		AllowedUserIDs: allowed,
		Active:         true,
	}
}

func privateCtx(sender string) Context {
	return Context{
		Channel:      models.ChannelTelegram,
		AccountID:    "acct",
		Peer:         "peer-1",
		SenderUserID: sender,
	}
}

func TestDisabledDeniesEverything(t *testing.T) {
	e := NewEvaluator(nil, nil)
	for _, isGroup := range []bool{false, true} {
		mctx := privateCtx("u1")
		mctx.IsGroup = isGroup
		mctx.BotMentioned = true
		d, err := e.Evaluate(context.Background(), testAgent(models.DMPolicyDisabled), mctx)
		if err != nil {
			t.Fatal(err)
		}
		if d.Allowed {
			t.Fatalf("disabled policy allowed message (group=%v)", isGroup)
		}
	}
}

func TestOpenAllowsPrivate(t *testing.T) {
	e := NewEvaluator(nil, nil)
	d, err := e.Evaluate(context.Background(), testAgent(models.DMPolicyOpen), privateCtx("anyone"))
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.Reason != ReasonOpen {
		t.Fatalf("expected open allow, got %+v", d)
	}
}

func TestGroupMentionRule(t *testing.T) {
	e := NewEvaluator(nil, nil)
	agent := testAgent(models.DMPolicyOpen)
	agent.GroupRequiresMention = true

	mctx := privateCtx("u1")
	mctx.IsGroup = true

	d, err := e.Evaluate(context.Background(), agent, mctx)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Reason != ReasonMentionRequired {
		t.Fatalf("expected mention denial, got %+v", d)
	}

	mctx.BotMentioned = true
	d, err = e.Evaluate(context.Background(), agent, mctx)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatalf("expected allow with mention, got %+v", d)
	}
}

func TestAllowlist(t *testing.T) {
	e := NewEvaluator(nil, nil)
	agent := testAgent(models.DMPolicyAllowlist, "u1")

	d, _ := e.Evaluate(context.Background(), agent, privateCtx("u1"))
	if !d.Allowed || d.Reason != ReasonAllowlisted {
		t.Fatalf("allowlisted sender denied: %+v", d)
	}

	d, _ = e.Evaluate(context.Background(), agent, privateCtx("u2"))
	if d.Allowed || d.Reason != ReasonNotAllowlisted {
		t.Fatalf("non-listed sender allowed: %+v", d)
	}
}

func TestPairingEmitsRequestAndDenies(t *testing.T) {
	store := newFakePairingStore()
	e := NewEvaluator(store, nil)
	agent := testAgent(models.DMPolicyPairing)

	d, err := e.Evaluate(context.Background(), agent, privateCtx("stranger"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("unpaired sender allowed")
	}
	if d.Reason != ReasonPairingRequired || d.PairingRequest == nil {
		t.Fatalf("expected pairing request, got %+v", d)
	}
	if len(d.PairingRequest.Code) != 8 {
		t.Fatalf("unexpected code %q", d.PairingRequest.Code)
	}

	// Second message reuses the pending request instead of minting a new one.
	d2, err := e.Evaluate(context.Background(), agent, privateCtx("stranger"))
	if err != nil {
		t.Fatal(err)
	}
	if len(store.requests) != 1 {
		t.Fatalf("expected 1 stored request, got %d", len(store.requests))
	}
	if d2.PairingRequest.Code != d.PairingRequest.Code {
		t.Fatal("expected same pairing code on repeat")
	}
}

func TestPairingAllowsPairedPeer(t *testing.T) {
	store := newFakePairingStore()
	store.paired[pairKey("agent-1", models.ChannelTelegram, "acct", "peer-1")] = true
	e := NewEvaluator(store, nil)

	d, err := e.Evaluate(context.Background(), testAgent(models.DMPolicyPairing), privateCtx("stranger"))
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.Reason != ReasonPaired {
		t.Fatalf("expected paired allow, got %+v", d)
	}
}

// Policy monotonicity: for a non-paired, non-allowlisted sender, open allows
// where allowlist denies, allowlist "denies" where pairing denies, and
// disabled denies all.
func TestPolicyMonotonicity(t *testing.T) {
	store := newFakePairingStore()
	e := NewEvaluator(store, nil)
	mctx := privateCtx("stranger")

	open, _ := e.Evaluate(context.Background(), testAgent(models.DMPolicyOpen), mctx)
	allow, _ := e.Evaluate(context.Background(), testAgent(models.DMPolicyAllowlist), mctx)
	pair, _ := e.Evaluate(context.Background(), testAgent(models.DMPolicyPairing), mctx)
	dis, _ := e.Evaluate(context.Background(), testAgent(models.DMPolicyDisabled), mctx)

	if !open.Allowed {
		t.Fatal("open must allow")
	}
	if allow.Allowed || pair.Allowed || dis.Allowed {
		t.Fatalf("expected denials: allowlist=%v pairing=%v disabled=%v",
			allow.Allowed, pair.Allowed, dis.Allowed)
	}
}
