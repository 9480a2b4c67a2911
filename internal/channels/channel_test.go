package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/primehq/prime/pkg/models"
)

type stubAdapter struct {
	channel   models.ChannelType
	started   bool
	stopped   bool
	startErr  error
	healthErr error
}

func (s *stubAdapter) Channel() models.ChannelType { return s.channel }

func (s *stubAdapter) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *stubAdapter) Stop(ctx context.Context) error {
	s.stopped = true
	return nil
}

// probedAdapter adds the optional health probe.
type probedAdapter struct {
	stubAdapter
}

func (p *probedAdapter) Health(ctx context.Context) error { return p.healthErr }

func TestStartAllRollsBackOnFailure(t *testing.T) {
	ok := &stubAdapter{channel: models.ChannelTelegram}
	bad := &stubAdapter{channel: models.ChannelSlack, startErr: errors.New("boom")}

	reg := NewRegistry()
	reg.Register(ok)
	reg.Register(bad)

	if err := reg.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if ok.started && !ok.stopped {
		t.Fatal("successfully started adapter was not stopped after failure")
	}
}

func TestRegistryHealth(t *testing.T) {
	plain := &stubAdapter{channel: models.ChannelTelegram}
	failing := &probedAdapter{stubAdapter: stubAdapter{
		channel:   models.ChannelSlack,
		healthErr: errors.New("auth test failed"),
	}}
	healthy := &probedAdapter{stubAdapter: stubAdapter{channel: models.ChannelWeb}}

	reg := NewRegistry()
	reg.Register(plain)
	reg.Register(failing)
	reg.Register(healthy)

	got := reg.Health(context.Background())
	if got[models.ChannelTelegram] != "ok" {
		t.Fatalf("unprobed adapter = %q, want ok", got[models.ChannelTelegram])
	}
	if got[models.ChannelWeb] != "ok" {
		t.Fatalf("healthy adapter = %q, want ok", got[models.ChannelWeb])
	}
	if got[models.ChannelSlack] != "auth test failed" {
		t.Fatalf("failing adapter = %q", got[models.ChannelSlack])
	}
}
