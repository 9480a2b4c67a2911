package routing

import (
	"context"
	"testing"

	"github.com/primehq/prime/pkg/models"
)

type staticSource struct {
	bindings []*models.Binding
}

func (s *staticSource) ActiveBindings(_ context.Context, channel models.ChannelType) ([]*models.Binding, error) {
	var out []*models.Binding
	for _, b := range s.bindings {
		if b.Channel == channel && b.Active {
			out = append(out, b)
		}
	}
	return out, nil
}

func binding(id, bot, account, peer string, priority int) *models.Binding {
	return &models.Binding{
		ID:        id,
		AgentID:   "agent-" + id,
		BotID:     bot,
		Channel:   models.ChannelTelegram,
		AccountID: account,
		Peer:      peer,
		Priority:  priority,
		Active:    true,
	}
}

func TestSpecificityBeatsPriority(t *testing.T) {
	// The approval-queue scenario from the routing rules: a peer-qualified
	// binding wins over a broader one even with a higher priority value.
	src := &staticSource{bindings: []*models.Binding{
		binding("broad", "B", "B", "", 100),
		binding("narrow", "B", "B", "12345", 200),
	}}
	r := NewResolver(src)

	got, err := r.Resolve(context.Background(), Query{
		Channel: models.ChannelTelegram, BotID: "B", AccountID: "B", Peer: "12345",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "narrow" {
		t.Fatalf("expected narrow binding, got %+v", got)
	}
}

func TestPriorityWithinTier(t *testing.T) {
	src := &staticSource{bindings: []*models.Binding{
		binding("p50", "B", "A", "", 50),
		binding("p10", "B", "A", "", 10),
	}}
	r := NewResolver(src)

	got, err := r.Resolve(context.Background(), Query{
		Channel: models.ChannelTelegram, BotID: "B", AccountID: "A", Peer: "zzz",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "p10" {
		t.Fatalf("expected lowest priority binding, got %+v", got)
	}
}

func TestIDTieBreakIsDeterministic(t *testing.T) {
	src := &staticSource{bindings: []*models.Binding{
		binding("bbb", "", "", "", 5),
		binding("aaa", "", "", "", 5),
	}}
	r := NewResolver(src)

	for i := 0; i < 10; i++ {
		got, err := r.Resolve(context.Background(), Query{Channel: models.ChannelTelegram, BotID: "B"})
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.ID != "aaa" {
			t.Fatalf("expected aaa, got %+v", got)
		}
	}
}

func TestMismatchedConcreteFieldDoesNotMatch(t *testing.T) {
	src := &staticSource{bindings: []*models.Binding{
		binding("other", "B2", "", "", 1),
	}}
	r := NewResolver(src)

	got, err := r.Resolve(context.Background(), Query{Channel: models.ChannelTelegram, BotID: "B1"})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestBotWildcardMatchesAnyBot(t *testing.T) {
	src := &staticSource{bindings: []*models.Binding{
		binding("wild", "", "", "", 1),
	}}
	r := NewResolver(src)

	got, err := r.Resolve(context.Background(), Query{Channel: models.ChannelTelegram, BotID: "whatever", Peer: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "wild" {
		t.Fatalf("expected wildcard binding, got %+v", got)
	}
}
