// Package telegram adapts Telegram bot traffic onto the shared channel
// pipeline using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/primehq/prime/internal/channels"
	"github.com/primehq/prime/pkg/models"
)

const (
	// maxMessageSize is Telegram's per-message text limit.
	maxMessageSize = 4096

	// editInterval paces streaming draft edits under Telegram's edit
	// rate limit.
	editInterval = 500 * time.Millisecond
)

// Handler consumes normalized inbound messages. Implemented by the
// channel pipeline.
type Handler interface {
	Handle(ctx context.Context, in channels.Inbound, r channels.Responder) error
}

// Config holds Telegram adapter settings.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// AccountID distinguishes multiple Telegram accounts in bindings.
	AccountID string

	// MaxReconnectAttempts bounds the reconnection loop. Defaults to 5.
	MaxReconnectAttempts int

	// ReconnectDelay is the pause between attempts. Defaults to 5s.
	ReconnectDelay time.Duration

	// RateLimit is outbound API calls per second. Defaults to 25.
	RateLimit float64

	// RateBurst is the rate limiter burst capacity. Defaults to 20.
	RateBurst int

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Token == "" {
		return errors.New("telegram: token is required")
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 25
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter runs one Telegram bot in long-polling mode and forwards each
// text message through the pipeline.
type Adapter struct {
	config  Config
	handler Handler
	bot     *bot.Bot
	limiter *channels.RateLimiter
	logger  *slog.Logger

	mu       sync.Mutex
	username string
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewAdapter validates the configuration and builds the adapter.
func NewAdapter(config Config, handler Handler) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("telegram: handler is required")
	}
	return &Adapter{
		config:  config,
		handler: handler,
		limiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:  config.Logger.With("adapter", "telegram"),
	}, nil
}

// Channel reports the channel family.
func (a *Adapter) Channel() models.ChannelType { return models.ChannelTelegram }

// Health probes the bot API.
func (a *Adapter) Health(ctx context.Context) error {
	if a.bot == nil {
		return errors.New("telegram: not started")
	}
	if _, err := a.bot.GetMe(ctx); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Start connects the bot and begins long polling in the background.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	b, err := bot.New(a.config.Token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b

	if me, err := b.GetMe(ctx); err == nil {
		a.mu.Lock()
		a.username = me.Username
		a.mu.Unlock()
	} else {
		a.logger.Warn("could not resolve bot username", "error", err)
	}

	a.wg.Add(1)
	go a.pollWithReconnection(ctx)

	a.logger.Info("telegram adapter started", "account_id", a.config.AccountID)
	return nil
}

func (a *Adapter) pollWithReconnection(ctx context.Context) {
	defer a.wg.Done()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := a.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			attempts++
			a.logger.Error("telegram polling error",
				"error", err,
				"attempt", attempts,
				"max_attempts", a.config.MaxReconnectAttempts)
			if attempts >= a.config.MaxReconnectAttempts {
				a.logger.Error("max reconnection attempts reached, stopping adapter")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.config.ReconnectDelay):
				a.logger.Info("reconnecting to telegram")
			}
			continue
		}
		return
	}
}

func (a *Adapter) poll(ctx context.Context) error {
	// Start blocks until the context ends.
	a.bot.Start(ctx)
	return ctx.Err()
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil {
		return
	}

	isGroup := msg.Chat.Type != "private"
	in := channels.Inbound{
		Channel:      models.ChannelTelegram,
		AccountID:    a.config.AccountID,
		Peer:         strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:     strconv.FormatInt(msg.From.ID, 10),
		SenderName:   msg.From.Username,
		Text:         a.stripMention(msg.Text),
		IsGroup:      isGroup,
		BotMentioned: !isGroup || a.mentioned(msg.Text),
		BotToken:     a.config.Token,
	}

	if err := a.handler.Handle(ctx, in, a); err != nil {
		a.logger.Error("message handling failed",
			"chat_id", msg.Chat.ID,
			"error", err)
	}
}

func (a *Adapter) mentioned(text string) bool {
	a.mu.Lock()
	username := a.username
	a.mu.Unlock()
	return username != "" && strings.Contains(text, "@"+username)
}

func (a *Adapter) stripMention(text string) string {
	a.mu.Lock()
	username := a.username
	a.mu.Unlock()
	if username == "" {
		return text
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "@"+username, ""))
}

// SendText delivers one message, rate limited.
func (a *Adapter) SendText(ctx context.Context, peer, text string) error {
	chatID, err := strconv.ParseInt(peer, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad peer %q: %w", peer, err)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// MaxMessageSize reports Telegram's text limit.
func (a *Adapter) MaxMessageSize() int { return maxMessageSize }

// SendDraft posts the first streaming fragment and returns its message
// id for later edits.
func (a *Adapter) SendDraft(ctx context.Context, peer, text string) (string, error) {
	chatID, err := strconv.ParseInt(peer, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: bad peer %q: %w", peer, err)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	sent, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return "", fmt.Errorf("telegram: send draft: %w", err)
	}
	return strconv.Itoa(sent.ID), nil
}

// EditDraft replaces the draft's text in place.
func (a *Adapter) EditDraft(ctx context.Context, peer, draftID, text string) error {
	chatID, err := strconv.ParseInt(peer, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad peer %q: %w", peer, err)
	}
	messageID, err := strconv.Atoi(draftID)
	if err != nil {
		return fmt.Errorf("telegram: bad draft id %q: %w", draftID, err)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = a.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("telegram: edit draft: %w", err)
	}
	return nil
}

// EditInterval reports the streaming edit pace.
func (a *Adapter) EditInterval() time.Duration { return editInterval }

// Stop cancels polling and waits for in-flight handlers.
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
		a.logger.Info("telegram adapter stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: stop timed out: %w", ctx.Err())
	}
}
