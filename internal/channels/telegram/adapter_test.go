package telegram

import (
	"context"
	"testing"
	"time"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/primehq/prime/internal/channels"
	"github.com/primehq/prime/pkg/models"
)

type captureHandler struct {
	inbound []channels.Inbound
}

func (h *captureHandler) Handle(ctx context.Context, in channels.Inbound, r channels.Responder) error {
	h.inbound = append(h.inbound, in)
	return nil
}

func newTestAdapter(t *testing.T) (*Adapter, *captureHandler) {
	t.Helper()
	h := &captureHandler{}
	a, err := NewAdapter(Config{Token: "tok", AccountID: "acct"}, h)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a, h
}

func TestConfigDefaults(t *testing.T) {
	c := Config{Token: "tok"}
	if err := c.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.MaxReconnectAttempts != 5 {
		t.Fatalf("MaxReconnectAttempts = %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectDelay != 5*time.Second {
		t.Fatalf("ReconnectDelay = %v", c.ReconnectDelay)
	}
	if c.RateLimit != 25 || c.RateBurst != 20 {
		t.Fatalf("rate defaults = %v/%v", c.RateLimit, c.RateBurst)
	}
}

func TestConfigRequiresToken(t *testing.T) {
	c := Config{}
	if err := c.validate(); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestNewAdapterRequiresHandler(t *testing.T) {
	if _, err := NewAdapter(Config{Token: "tok"}, nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestChannelAndLimits(t *testing.T) {
	a, _ := newTestAdapter(t)
	if a.Channel() != models.ChannelTelegram {
		t.Fatalf("Channel = %v", a.Channel())
	}
	if a.MaxMessageSize() != 4096 {
		t.Fatalf("MaxMessageSize = %d", a.MaxMessageSize())
	}
	if a.EditInterval() != 500*time.Millisecond {
		t.Fatalf("EditInterval = %v", a.EditInterval())
	}
}

func TestHandleUpdateNormalizesPrivateMessage(t *testing.T) {
	a, h := newTestAdapter(t)
	a.username = "prime_bot"

	a.handleUpdate(context.Background(), nil, &tgmodels.Update{
		Message: &tgmodels.Message{
			Text: "hello",
			Chat: tgmodels.Chat{ID: 42, Type: "private"},
			From: &tgmodels.User{ID: 7, Username: "alice"},
		},
	})

	if len(h.inbound) != 1 {
		t.Fatalf("expected 1 inbound, got %d", len(h.inbound))
	}
	in := h.inbound[0]
	if in.Peer != "42" || in.SenderID != "7" || in.SenderName != "alice" {
		t.Fatalf("unexpected inbound %+v", in)
	}
	if in.IsGroup {
		t.Fatal("private chat flagged as group")
	}
	if !in.BotMentioned {
		t.Fatal("private chats always count as mentioned")
	}
	if in.BotToken != "tok" || in.AccountID != "acct" {
		t.Fatalf("credential fields %+v", in)
	}
}

func TestHandleUpdateGroupMention(t *testing.T) {
	a, h := newTestAdapter(t)
	a.username = "prime_bot"

	a.handleUpdate(context.Background(), nil, &tgmodels.Update{
		Message: &tgmodels.Message{
			Text: "@prime_bot what is up",
			Chat: tgmodels.Chat{ID: -100, Type: "supergroup"},
			From: &tgmodels.User{ID: 7, Username: "alice"},
		},
	})

	in := h.inbound[0]
	if !in.IsGroup || !in.BotMentioned {
		t.Fatalf("group mention not detected: %+v", in)
	}
	if in.Text != "what is up" {
		t.Fatalf("mention not stripped: %q", in.Text)
	}
}

func TestHandleUpdateIgnoresNonText(t *testing.T) {
	a, h := newTestAdapter(t)
	a.handleUpdate(context.Background(), nil, &tgmodels.Update{})
	a.handleUpdate(context.Background(), nil, &tgmodels.Update{
		Message: &tgmodels.Message{Chat: tgmodels.Chat{ID: 1}},
	})
	if len(h.inbound) != 0 {
		t.Fatalf("expected no inbound, got %d", len(h.inbound))
	}
}
