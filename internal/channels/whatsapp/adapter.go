// Package whatsapp adapts WhatsApp Business Cloud API webhooks onto
// the shared channel pipeline.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/primehq/prime/internal/channels"
	"github.com/primehq/prime/pkg/models"
)

const (
	// maxMessageSize is the Cloud API text body limit.
	maxMessageSize = 4096

	// maxWebhookBody bounds webhook request bodies.
	maxWebhookBody = 1 << 20

	defaultGraphBase = "https://graph.facebook.com/v19.0"
)

// Handler consumes normalized inbound messages. Implemented by the
// channel pipeline.
type Handler interface {
	Handle(ctx context.Context, in channels.Inbound, r channels.Responder) error
}

// Config holds WhatsApp Business credentials.
type Config struct {
	// AccessToken authorizes Graph API calls.
	AccessToken string

	// PhoneNumberID is the business phone number the bot sends from.
	PhoneNumberID string

	// AppSecret signs inbound webhooks (X-Hub-Signature-256).
	AppSecret string

	// VerifyToken answers Meta's webhook subscription handshake.
	VerifyToken string

	// GraphBase overrides the Graph API endpoint, for tests.
	GraphBase string

	Logger *slog.Logger
}

// Adapter receives Cloud API webhooks and sends replies through the
// Graph API. Unlike the socket-based adapters it is driven entirely by
// HTTP, so Start and Stop only manage lifecycle state.
type Adapter struct {
	cfg     Config
	handler Handler
	client  *http.Client
	limiter *channels.RateLimiter
	logger  *slog.Logger
}

// NewAdapter builds the adapter.
func NewAdapter(cfg Config, handler Handler) (*Adapter, error) {
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, errors.New("whatsapp: access token and phone number id are required")
	}
	if cfg.AppSecret == "" || cfg.VerifyToken == "" {
		return nil, errors.New("whatsapp: app secret and verify token are required")
	}
	if handler == nil {
		return nil, errors.New("whatsapp: handler is required")
	}
	if cfg.GraphBase == "" {
		cfg.GraphBase = defaultGraphBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		cfg:     cfg,
		handler: handler,
		client:  &http.Client{Timeout: 30 * time.Second},
		// Cloud API allows 80 messages per second per number.
		limiter: channels.NewRateLimiter(50, 20),
		logger:  cfg.Logger.With("adapter", "whatsapp"),
	}, nil
}

// Channel reports the channel family.
func (a *Adapter) Channel() models.ChannelType { return models.ChannelWhatsApp }

// Start is a no-op; delivery is webhook driven.
func (a *Adapter) Start(ctx context.Context) error {
	a.logger.Info("whatsapp adapter ready", "phone_number_id", a.cfg.PhoneNumberID)
	return nil
}

// Stop is a no-op.
func (a *Adapter) Stop(ctx context.Context) error { return nil }

// ServeHTTP handles both the subscription handshake (GET) and message
// delivery (POST).
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleVerify(w, r)
	case http.MethodPost:
		a.handleDelivery(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *Adapter) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != a.cfg.VerifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.Write([]byte(q.Get("hub.challenge")))
}

func (a *Adapter) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if !a.validSignature(r.Header.Get("X-Hub-Signature-256"), body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "parse payload", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text.Body == "" {
					continue
				}
				in := channels.Inbound{
					Channel:      models.ChannelWhatsApp,
					AccountID:    change.Value.Metadata.PhoneNumberID,
					Peer:         msg.From,
					SenderID:     msg.From,
					SenderName:   senderName(change.Value.Contacts, msg.From),
					Text:         msg.Text.Body,
					BotMentioned: true,
					BotToken:     a.cfg.AccessToken,
				}
				if err := a.handler.Handle(r.Context(), in, a); err != nil {
					a.logger.Error("message handling failed", "from", msg.From, "error", err)
				}
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

// validSignature checks the webhook HMAC, constant time.
func (a *Adapter) validSignature(header string, body []byte) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.AppSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(want))
}

// SendText posts one text message through the Graph API.
func (a *Adapter) SendText(ctx context.Context, peer, text string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                peer,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", a.cfg.GraphBase, a.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp: send message: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// MaxMessageSize reports the Cloud API text limit.
func (a *Adapter) MaxMessageSize() int { return maxMessageSize }

func senderName(contacts []webhookContact, waID string) string {
	for _, c := range contacts {
		if c.WaID == waID && c.Profile.Name != "" {
			return c.Profile.Name
		}
	}
	return waID
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []webhookContact `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}
