// Package web serves browser chat clients over WebSocket and feeds
// them through the shared channel pipeline.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/primehq/prime/internal/channels"
	"github.com/primehq/prime/pkg/models"
)

const (
	// maxMessageSize is generous; browsers render long replies fine.
	maxMessageSize = 16384

	writeTimeout = 10 * time.Second
	readLimit    = 64 << 10
)

// Handler consumes normalized inbound messages. Implemented by the
// channel pipeline.
type Handler interface {
	Handle(ctx context.Context, in channels.Inbound, r channels.Responder) error
}

// Config holds web channel settings.
type Config struct {
	// Token identifies the web bot in bindings.
	Token string

	// AccountID distinguishes deployments in bindings.
	AccountID string

	Logger *slog.Logger
}

// clientFrame is what browsers send.
type clientFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// serverFrame is what browsers receive. Draft frames carry a stable id
// so the client can replace the bubble in place while tokens stream.
type serverFrame struct {
	Type string `json:"type"` // "message", "draft", "edit", "error"
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// Adapter upgrades HTTP connections and runs one read loop per client.
type Adapter struct {
	cfg      Config
	handler  Handler
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

// NewAdapter builds the adapter.
func NewAdapter(cfg Config, handler Handler) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, errors.New("web: token is required")
	}
	if handler == nil {
		return nil, errors.New("web: handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		cfg:     cfg,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: cfg.Logger.With("adapter", "web"),
		conns:  make(map[string]*conn),
	}, nil
}

// Channel reports the channel family.
func (a *Adapter) Channel() models.ChannelType { return models.ChannelWeb }

// Start is a no-op; clients connect through ServeHTTP.
func (a *Adapter) Start(ctx context.Context) error { return nil }

// Stop closes every open connection.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	conns := make([]*conn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	return nil
}

// ServeHTTP upgrades the connection and pumps messages until the
// client disconnects.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		sender: clientName(r),
	}
	a.mu.Lock()
	a.conns[c.id] = c
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.conns, c.id)
		a.mu.Unlock()
		c.close()
	}()

	ws.SetReadLimit(readLimit)
	for {
		var frame clientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debug("read loop ended", "conn_id", c.id, "error", err)
			}
			return
		}
		if frame.Type != "message" || frame.Text == "" {
			continue
		}

		in := channels.Inbound{
			Channel:      models.ChannelWeb,
			AccountID:    a.cfg.AccountID,
			Peer:         c.id,
			SenderID:     c.id,
			SenderName:   c.sender,
			Text:         frame.Text,
			BotMentioned: true,
			BotToken:     a.cfg.Token,
		}
		if err := a.handler.Handle(r.Context(), in, c); err != nil {
			a.logger.Error("message handling failed", "conn_id", c.id, "error", err)
		}
	}
}

func clientName(r *http.Request) string {
	if name := r.URL.Query().Get("name"); name != "" {
		return name
	}
	return "web-user"
}

// conn is one connected browser. It implements Responder and
// DraftEditor; drafts map onto edit frames the client applies in
// place.
type conn struct {
	id     string
	sender string
	mu     sync.Mutex
	ws     *websocket.Conn
}

func (c *conn) write(frame serverFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(frame)
}

func (c *conn) SendText(ctx context.Context, peer, text string) error {
	if err := c.write(serverFrame{Type: "message", Text: text}); err != nil {
		return fmt.Errorf("web: send: %w", err)
	}
	return nil
}

func (c *conn) MaxMessageSize() int { return maxMessageSize }

func (c *conn) SendDraft(ctx context.Context, peer, text string) (string, error) {
	id := uuid.NewString()
	if err := c.write(serverFrame{Type: "draft", ID: id, Text: text}); err != nil {
		return "", fmt.Errorf("web: send draft: %w", err)
	}
	return id, nil
}

func (c *conn) EditDraft(ctx context.Context, peer, draftID, text string) error {
	if err := c.write(serverFrame{Type: "edit", ID: draftID, Text: text}); err != nil {
		return fmt.Errorf("web: edit draft: %w", err)
	}
	return nil
}

// EditInterval is short; local sockets tolerate frequent updates.
func (c *conn) EditInterval() time.Duration { return 100 * time.Millisecond }

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.ws.Close()
}
