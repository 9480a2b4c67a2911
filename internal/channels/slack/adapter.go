// Package slack adapts Slack Socket Mode traffic onto the shared
// channel pipeline.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/primehq/prime/internal/channels"
	"github.com/primehq/prime/pkg/models"
)

// maxMessageSize keeps replies within a single Slack text block.
const maxMessageSize = 4000

// Handler consumes normalized inbound messages. Implemented by the
// channel pipeline.
type Handler interface {
	Handle(ctx context.Context, in channels.Inbound, r channels.Responder) error
}

// Config holds Slack adapter credentials.
type Config struct {
	// BotToken is the xoxb- token for Web API calls.
	BotToken string

	// AppToken is the xapp- token for Socket Mode.
	AppToken string

	// AccountID distinguishes multiple Slack workspaces in bindings.
	AccountID string

	Logger *slog.Logger
}

// Adapter runs one Slack app over Socket Mode and forwards messages
// and app mentions through the pipeline.
type Adapter struct {
	cfg     Config
	handler Handler
	client  *slack.Client
	socket  *socketmode.Client
	limiter *channels.RateLimiter
	logger  *slog.Logger

	mu        sync.Mutex
	botUserID string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewAdapter builds the adapter. Both tokens are required.
func NewAdapter(cfg Config, handler Handler) (*Adapter, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, errors.New("slack: bot token and app token are required")
	}
	if handler == nil {
		return nil, errors.New("slack: handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Adapter{
		cfg:     cfg,
		handler: handler,
		client:  client,
		socket:  socketmode.New(client),
		// Slack's chat.postMessage tier allows roughly one call per
		// second per channel.
		limiter: channels.NewRateLimiter(1, 5),
		logger:  cfg.Logger.With("adapter", "slack"),
	}, nil
}

// Channel reports the channel family.
func (a *Adapter) Channel() models.ChannelType { return models.ChannelSlack }

// Health probes the Web API with an auth test.
func (a *Adapter) Health(ctx context.Context) error {
	if _, err := a.client.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

// Start authenticates, then runs the Socket Mode loop in the
// background.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.mu.Lock()
	a.botUserID = auth.UserID
	a.mu.Unlock()

	a.wg.Add(2)
	go a.handleEvents(ctx)
	go func() {
		defer a.wg.Done()
		if err := a.socket.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("socket mode terminated", "error", err)
		}
	}()

	a.logger.Info("slack adapter started", "bot_user_id", auth.UserID)
	return nil
}

func (a *Adapter) handleEvents(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socket.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeConnected:
				a.logger.Info("connected to socket mode")
			case socketmode.EventTypeConnectionError:
				a.logger.Warn("socket mode connection error", "data", event.Data)
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(ctx, event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					a.socket.Ack(*event.Request)
				}
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if event.Request != nil {
		a.socket.Ack(*event.Request)
	}
	if !ok || apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.dispatch(ctx, inboundEvent{
			user:      ev.User,
			text:      ev.Text,
			channel:   ev.Channel,
			mentioned: true,
		})
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType != "" {
			return
		}
		a.dispatch(ctx, inboundEvent{
			user:    ev.User,
			text:    ev.Text,
			channel: ev.Channel,
		})
	}
}

type inboundEvent struct {
	user      string
	text      string
	channel   string
	mentioned bool
}

func (a *Adapter) dispatch(ctx context.Context, ev inboundEvent) {
	if ev.text == "" || ev.user == "" {
		return
	}
	a.mu.Lock()
	botUserID := a.botUserID
	a.mu.Unlock()

	isDM := strings.HasPrefix(ev.channel, "D")
	mention := "<@" + botUserID + ">"
	mentioned := ev.mentioned || strings.Contains(ev.text, mention)

	in := channels.Inbound{
		Channel:      models.ChannelSlack,
		AccountID:    a.cfg.AccountID,
		Peer:         ev.channel,
		SenderID:     ev.user,
		SenderName:   ev.user,
		Text:         strings.TrimSpace(strings.ReplaceAll(ev.text, mention, "")),
		IsGroup:      !isDM,
		BotMentioned: !isDM && mentioned || isDM,
		BotToken:     a.cfg.BotToken,
	}
	if err := a.handler.Handle(ctx, in, a); err != nil {
		a.logger.Error("message handling failed", "channel", ev.channel, "error", err)
	}
}

// SendText posts one message, rate limited.
func (a *Adapter) SendText(ctx context.Context, peer, text string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, err := a.client.PostMessageContext(ctx, peer, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// MaxMessageSize reports the per-message text limit.
func (a *Adapter) MaxMessageSize() int { return maxMessageSize }

// SendDraft posts the first streaming fragment and returns its
// timestamp for later updates.
func (a *Adapter) SendDraft(ctx context.Context, peer, text string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	_, ts, err := a.client.PostMessageContext(ctx, peer, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack: post draft: %w", err)
	}
	return ts, nil
}

// EditDraft updates the draft message in place.
func (a *Adapter) EditDraft(ctx context.Context, peer, draftID, text string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, _, err := a.client.UpdateMessageContext(ctx, peer, draftID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: update draft: %w", err)
	}
	return nil
}

// EditInterval paces streaming updates under chat.update limits.
func (a *Adapter) EditInterval() time.Duration { return time.Second }

// Stop cancels the socket loop and waits for in-flight handlers.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("slack adapter stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("slack: stop timed out: %w", ctx.Err())
	}
}
