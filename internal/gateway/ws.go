package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/primehq/prime/internal/auth"
	"github.com/primehq/prime/internal/bus"
	"github.com/primehq/prime/internal/commands"
)

const (
	wsProtocolVersion = 1
	wsMaxPayloadBytes = 1 << 20
	wsWriteWait       = 10 * time.Second

	connectTimeout    = 10 * time.Second
	heartbeatInterval = 20 * time.Second
	idleTimeout       = 45 * time.Second
)

// Backpressure policies for a slow subscriber's event queue.
const (
	BackpressureDropOldest = "drop_oldest"
	BackpressureDisconnect = "disconnect"
)

// Error codes owned by the transport layer. Dispatch-level codes come
// from the commands package.
const (
	codeAuthFailed    = "auth_failed"
	codeProtocolError = "protocol_error"
)

// Frame is the single wire shape: one JSON object per text frame.
type Frame struct {
	Type           string          `json:"type"`
	ID             string          `json:"id,omitempty"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Event          string          `json:"event,omitempty"`
	Payload        any             `json:"payload,omitempty"`
	Data           any             `json:"data,omitempty"`
	Code           string          `json:"code,omitempty"`
	Message        string          `json:"message,omitempty"`
}

type connectParams struct {
	Nonce       string          `json:"nonce"`
	Token       string          `json:"token,omitempty"`
	Auth        *passwordLogin  `json:"auth,omitempty"`
	Client      json.RawMessage `json:"client,omitempty"`
	MinProtocol int             `json:"minProtocol"`
	MaxProtocol int             `json:"maxProtocol"`
}

type passwordLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// WSHandler upgrades /ws/events connections and runs the gateway
// protocol: challenge, connect, request dispatch, event fan-out,
// heartbeats.
type WSHandler struct {
	auth     *auth.Service
	commands *commands.Bus
	events   *bus.Bus
	logger   *slog.Logger
	policy   string
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*wsConn
}

// NewWSHandler builds the WebSocket control plane. policy selects what
// happens when a connection's outbound queue fills.
func NewWSHandler(authSvc *auth.Service, cmdBus *commands.Bus, events *bus.Bus, policy string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if policy != BackpressureDisconnect {
		policy = BackpressureDropOldest
	}
	return &WSHandler{
		auth:     authSvc,
		commands: cmdBus,
		events:   events,
		logger:   logger.With("component", "gateway.ws"),
		policy:   policy,
		conns:    make(map[string]*wsConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ConnectionCount reports live authenticated connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

type wsConn struct {
	handler *WSHandler
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	id       string
	identity *auth.Identity
	sub      *bus.Subscription

	closeOnce sync.Once
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		handler: h,
		conn:    sock,
		send:    make(chan []byte, 256),
		ctx:     ctx,
		cancel:  cancel,
		id:      uuid.NewString(),
	}
	sock.SetReadLimit(wsMaxPayloadBytes)

	// The handshake writes synchronously; the outbound pump starts
	// only once the connection is authenticated.
	if err := c.handshake(); err != nil {
		c.refuse(err)
		return
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	// Ping/pong control frames count as inbound traffic: a listen-only
	// client stays connected by answering pings or sending its own.
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		// WriteControl is safe alongside the write pump.
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteWait))
	})

	c.sub = h.events.Subscribe()
	go c.writePump()
	go c.eventPump()
	go c.heartbeat()

	c.readLoop()
	c.close()
}

// handshake runs the challenge/connect exchange. Any returned error
// ends the connection with close code 1008.
func (c *wsConn) handshake() error {
	nonce, err := newNonce()
	if err != nil {
		return &wsRefusal{code: codeProtocolError, message: "challenge generation failed"}
	}
	if err := c.writeFrame(Frame{Type: "event", Event: "connect.challenge", Payload: map[string]string{"nonce": nonce}}); err != nil {
		return &wsRefusal{code: codeProtocolError, message: "challenge write failed"}
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(connectTimeout))
	frame, err := c.readFrame()
	if err != nil {
		return &wsRefusal{code: codeProtocolError, message: "connect frame not received in time"}
	}
	if frame.Type != "req" || frame.Method != "connect" {
		return &wsRefusal{code: codeProtocolError, message: "first frame must be a connect request"}
	}

	var params connectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return &wsRefusal{code: codeProtocolError, message: "malformed connect params"}
	}

	minP, maxP := params.MinProtocol, params.MaxProtocol
	if minP <= 0 {
		minP = wsProtocolVersion
	}
	if maxP <= 0 {
		maxP = wsProtocolVersion
	}
	if wsProtocolVersion < minP || wsProtocolVersion > maxP {
		return &wsRefusal{code: codeProtocolError, message: "unsupported protocol version"}
	}
	if params.Nonce != nonce {
		return &wsRefusal{code: codeAuthFailed, message: "nonce mismatch"}
	}

	identity, err := c.authenticate(params, nonce)
	if err != nil {
		return &wsRefusal{code: codeAuthFailed, message: err.Error()}
	}
	c.identity = identity

	if err := c.writeFrame(Frame{Type: "res", ID: frame.ID, Payload: map[string]any{
		"connection_id": c.id,
		"protocol":      wsProtocolVersion,
		"user": map[string]any{
			"id":     identity.UserID,
			"org_id": identity.OrgID,
			"role":   string(identity.Role),
			"scopes": identity.Scopes,
		},
	}}); err != nil {
		return &wsRefusal{code: codeProtocolError, message: "response write failed"}
	}
	if err := c.writeFrame(Frame{Type: "event", Event: bus.TopicPresence, Data: map[string]any{
		"connection_id": c.id,
		"user_id":       identity.UserID,
	}}); err != nil {
		return &wsRefusal{code: codeProtocolError, message: "event write failed"}
	}
	c.handler.events.Publish(bus.TopicPresence, map[string]any{
		"connection_id": c.id,
		"user_id":       identity.UserID,
	})
	return nil
}

func (c *wsConn) authenticate(params connectParams, nonce string) (*auth.Identity, error) {
	switch {
	case strings.TrimSpace(params.Token) != "":
		id, err := c.handler.auth.ValidateToken(params.Token)
		if err != nil {
			return nil, errors.New("invalid token")
		}
		if id.Nonce != "" && id.Nonce != nonce {
			return nil, errors.New("token nonce mismatch")
		}
		return id, nil
	case params.Auth != nil:
		user, err := c.handler.auth.AuthenticatePassword(c.ctx, params.Auth.Username, params.Auth.Password)
		if err != nil {
			return nil, errors.New("invalid credentials")
		}
		return &auth.Identity{
			UserID: user.ID,
			OrgID:  user.OrgID,
			Role:   user.Role,
			Scopes: auth.ScopesForRole(user.Role),
		}, nil
	default:
		return nil, errors.New("credentials required")
	}
}

// readLoop dispatches post-handshake requests sequentially so response
// order follows request order per connection.
func (c *wsConn) readLoop() {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		frame, err := c.readFrame()
		if err != nil {
			return
		}
		if frame.Type != "req" {
			c.enqueue(Frame{Type: "error", ID: frame.ID, Code: codeProtocolError, Message: "unsupported frame type"})
			continue
		}
		if frame.Method == "connect" {
			c.enqueue(Frame{Type: "error", ID: frame.ID, Code: codeProtocolError, Message: "already connected"})
			continue
		}
		c.dispatch(frame)
	}
}

func (c *wsConn) dispatch(frame *Frame) {
	claims := commands.Claims{
		UserID: c.identity.UserID,
		OrgID:  c.identity.OrgID,
		Scopes: c.identity.Scopes,
	}
	payload, err := c.handler.commands.Dispatch(c.ctx, frame.Method, frame.Params, claims, frame.IdempotencyKey)
	if err != nil {
		var cmdErr *commands.Error
		if errors.As(err, &cmdErr) {
			c.enqueue(Frame{Type: "error", ID: frame.ID, Code: cmdErr.Code, Message: cmdErr.Message})
			return
		}
		c.enqueue(Frame{Type: "error", ID: frame.ID, Code: commands.CodeCommandFailed, Message: err.Error()})
		return
	}
	c.enqueue(Frame{Type: "res", ID: frame.ID, Payload: payload})
}

func (c *wsConn) readFrame() (*Frame, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Binary frames are reserved.
		if messageType != websocket.TextMessage {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(Frame{Type: "error", Code: codeProtocolError, Message: "malformed frame"})
			continue
		}
		return &frame, nil
	}
}

// eventPump forwards bus events to the client. The send queue applies
// the configured backpressure policy, so a slow client either loses
// old frames or loses the connection.
func (c *wsConn) eventPump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-c.sub.C:
			if !ok {
				return
			}
			c.enqueue(Frame{Type: "event", Event: evt.Topic, Data: evt.Data})
		}
	}
}

func (c *wsConn) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.enqueue(Frame{Type: "event", Event: bus.TopicHeartbeat, Data: map[string]any{
				"timestamp": time.Now().UnixMilli(),
			}})
		}
	}
}

func (c *wsConn) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// writeFrame writes directly to the socket. Only safe before the
// write pump starts.
func (c *wsConn) writeFrame(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) enqueue(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.handler.logger.Warn("frame marshal failed", "error", err)
		return
	}
	for {
		select {
		case c.send <- data:
			return
		default:
		}
		if c.handler.policy == BackpressureDisconnect {
			c.handler.logger.Warn("send queue full, disconnecting", "connection", c.id)
			c.cancel()
			return
		}
		// Drop the oldest queued frame and retry.
		select {
		case <-c.send:
		default:
		}
	}
}

// refuse reports a handshake failure and closes with policy violation.
func (c *wsConn) refuse(err error) {
	var refusal *wsRefusal
	if !errors.As(err, &refusal) {
		refusal = &wsRefusal{code: codeProtocolError, message: err.Error()}
	}
	payload, _ := json.Marshal(Frame{Type: "error", Code: refusal.code, Message: refusal.message})
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = c.conn.WriteMessage(websocket.TextMessage, payload)
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, refusal.message))
	c.close()
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.sub != nil {
			c.sub.Unsubscribe()
		}
		c.handler.mu.Lock()
		delete(c.handler.conns, c.id)
		c.handler.mu.Unlock()
		_ = c.conn.Close()
	})
}

type wsRefusal struct {
	code    string
	message string
}

func (r *wsRefusal) Error() string { return r.message }

// newNonce returns a 192-bit hex challenge.
func newNonce() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
