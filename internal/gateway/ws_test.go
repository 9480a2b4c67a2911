package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/primehq/prime/internal/auth"
	"github.com/primehq/prime/internal/bus"
	"github.com/primehq/prime/internal/commands"
	"github.com/primehq/prime/internal/idempotency"
	"github.com/primehq/prime/pkg/models"
)

type fakeUsers struct {
	users map[string]*models.User
}

func (s *fakeUsers) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *fakeUsers) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

type memIdemStore struct {
	rows map[string]*models.IdempotencyKey
}

func newMemIdemStore() *memIdemStore {
	return &memIdemStore{rows: make(map[string]*models.IdempotencyKey)}
}

func (s *memIdemStore) Insert(_ context.Context, row *models.IdempotencyKey) error {
	if _, ok := s.rows[row.Key]; ok {
		return idempotency.ErrDuplicate
	}
	cp := *row
	s.rows[row.Key] = &cp
	return nil
}

func (s *memIdemStore) Get(_ context.Context, key, actor string) (*models.IdempotencyKey, error) {
	row, ok := s.rows[key]
	if !ok {
		return nil, idempotency.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memIdemStore) Update(_ context.Context, row *models.IdempotencyKey) error {
	cp := *row
	s.rows[row.Key] = &cp
	return nil
}

func (s *memIdemStore) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type wsFixture struct {
	server *httptest.Server
	auth   *auth.Service
	events *bus.Bus
	users  *fakeUsers
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	users := &fakeUsers{users: map[string]*models.User{
		"u-admin": {
			ID:           "u-admin",
			OrgID:        "org-1",
			Username:     "root",
			Role:         models.RoleAdmin,
			PasswordHash: auth.HashSecret("hunter2"),
		},
		"u-viewer": {
			ID:       "u-viewer",
			OrgID:    "org-1",
			Username: "viewer",
			Role:     models.RoleUser,
		},
	}}
	authSvc := auth.NewService(auth.Config{JWTSecret: "ws-test-secret", TokenExpiry: time.Hour}, users)

	idem := idempotency.NewService(newMemIdemStore())
	cmdBus := commands.NewBus(idem, slog.Default())
	cmdBus.Register("health.get", "health.read", func(ctx context.Context, claims commands.Claims, params json.RawMessage) (any, error) {
		return map[string]any{"status": "ok"}, nil
	})
	cmdBus.Register("admin.get", "admin.read", func(ctx context.Context, claims commands.Claims, params json.RawMessage) (any, error) {
		return map[string]any{"secret": true}, nil
	})

	events := bus.New()
	handler := NewWSHandler(authSvc, cmdBus, events, BackpressureDropOldest, slog.Default())

	mux := http.NewServeMux()
	mux.Handle("/ws/events", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &wsFixture{server: server, auth: authSvc, events: events, users: users}
}

func dialWS(t *testing.T, f *wsFixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func readChallenge(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	frame := readWSFrame(t, conn)
	if frame.Type != "event" || frame.Event != "connect.challenge" {
		t.Fatalf("first frame = %+v, want connect.challenge", frame)
	}
	payload, ok := frame.Payload.(map[string]any)
	if !ok {
		t.Fatalf("challenge payload = %#v", frame.Payload)
	}
	nonce, _ := payload["nonce"].(string)
	if len(nonce) != 48 {
		t.Fatalf("nonce = %q, want 48 hex chars", nonce)
	}
	return nonce
}

func connectAs(t *testing.T, f *wsFixture, conn *websocket.Conn, userID string) {
	t.Helper()
	nonce := readChallenge(t, conn)
	token, err := f.auth.IssueToken(f.users.users[userID], nonce)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	params, _ := json.Marshal(map[string]any{"nonce": nonce, "token": token})
	if err := conn.WriteJSON(Frame{Type: "req", ID: "c1", Method: "connect", Params: params}); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	res := readWSFrame(t, conn)
	if res.Type != "res" || res.ID != "c1" {
		t.Fatalf("connect response = %+v", res)
	}
	presence := readWSFrame(t, conn)
	if presence.Type != "event" || presence.Event != bus.TopicPresence {
		t.Fatalf("frame after connect = %+v, want presence.connected", presence)
	}
}

func TestHandshakeAndDispatch(t *testing.T) {
	f := newWSFixture(t)
	conn := dialWS(t, f)
	connectAs(t, f, conn, "u-admin")

	params, _ := json.Marshal(map[string]any{})
	if err := conn.WriteJSON(Frame{Type: "req", ID: "r1", Method: "health.get", Params: params}); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := readWSFrame(t, conn)
	if res.Type != "res" || res.ID != "r1" {
		t.Fatalf("response = %+v", res)
	}
	payload, _ := res.Payload.(map[string]any)
	if payload["status"] != "ok" {
		t.Fatalf("payload = %#v", res.Payload)
	}
}

func TestUnknownMethodReturnsNotFound(t *testing.T) {
	f := newWSFixture(t)
	conn := dialWS(t, f)
	connectAs(t, f, conn, "u-admin")

	if err := conn.WriteJSON(Frame{Type: "req", ID: "r1", Method: "nope.get"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := readWSFrame(t, conn)
	if res.Type != "error" || res.Code != commands.CodeNotFound {
		t.Fatalf("response = %+v, want not_found error", res)
	}
}

func TestScopeDeniedOverWS(t *testing.T) {
	f := newWSFixture(t)
	conn := dialWS(t, f)
	connectAs(t, f, conn, "u-viewer")

	if err := conn.WriteJSON(Frame{Type: "req", ID: "r1", Method: "admin.get"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := readWSFrame(t, conn)
	if res.Type != "error" || res.Code != commands.CodeScopeDenied {
		t.Fatalf("response = %+v, want scope_denied error", res)
	}
}

func TestNonceMismatchCloses1008(t *testing.T) {
	f := newWSFixture(t)
	conn := dialWS(t, f)
	nonce := readChallenge(t, conn)

	token, err := f.auth.IssueToken(f.users.users["u-admin"], nonce)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	params, _ := json.Marshal(map[string]any{"nonce": "bogus", "token": token})
	if err := conn.WriteJSON(Frame{Type: "req", ID: "c1", Method: "connect", Params: params}); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	frame := readWSFrame(t, conn)
	if frame.Type != "error" || frame.Code != codeAuthFailed {
		t.Fatalf("frame = %+v, want auth_failed", frame)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err = %v, want close 1008", err)
	}
}

func TestTokenNonceBindingEnforced(t *testing.T) {
	f := newWSFixture(t)
	conn := dialWS(t, f)
	nonce := readChallenge(t, conn)

	// Token minted against a different handshake's nonce.
	token, err := f.auth.IssueToken(f.users.users["u-admin"], "stale-nonce")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	params, _ := json.Marshal(map[string]any{"nonce": nonce, "token": token})
	if err := conn.WriteJSON(Frame{Type: "req", ID: "c1", Method: "connect", Params: params}); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	frame := readWSFrame(t, conn)
	if frame.Type != "error" || frame.Code != codeAuthFailed {
		t.Fatalf("frame = %+v, want auth_failed", frame)
	}
}

func TestPasswordConnect(t *testing.T) {
	f := newWSFixture(t)
	conn := dialWS(t, f)
	nonce := readChallenge(t, conn)

	params, _ := json.Marshal(map[string]any{
		"nonce": nonce,
		"auth":  map[string]string{"username": "root", "password": "hunter2"},
	})
	if err := conn.WriteJSON(Frame{Type: "req", ID: "c1", Method: "connect", Params: params}); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	res := readWSFrame(t, conn)
	if res.Type != "res" {
		t.Fatalf("response = %+v", res)
	}
	payload, _ := res.Payload.(map[string]any)
	user, _ := payload["user"].(map[string]any)
	if user["id"] != "u-admin" {
		t.Fatalf("user = %#v", payload["user"])
	}
}

func TestFirstFrameMustBeConnect(t *testing.T) {
	f := newWSFixture(t)
	conn := dialWS(t, f)
	readChallenge(t, conn)

	if err := conn.WriteJSON(Frame{Type: "req", ID: "r1", Method: "health.get"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readWSFrame(t, conn)
	if frame.Type != "error" || frame.Code != codeProtocolError {
		t.Fatalf("frame = %+v, want protocol_error", frame)
	}
}

func TestPingKeepsConnectionAlive(t *testing.T) {
	f := newWSFixture(t)
	conn := dialWS(t, f)
	connectAs(t, f, conn, "u-admin")

	pong := make(chan string, 1)
	conn.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})
	if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	// The pong control frame is processed while reading the next data
	// frame, so drive a request through to pump the read side.
	params, _ := json.Marshal(map[string]any{})
	if err := conn.WriteJSON(Frame{Type: "req", ID: "r1", Method: "health.get", Params: params}); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := readWSFrame(t, conn)
	if res.Type != "res" || res.ID != "r1" {
		t.Fatalf("connection unusable after ping: %+v", res)
	}

	select {
	case data := <-pong:
		if data != "keepalive" {
			t.Fatalf("pong payload = %q", data)
		}
	default:
		t.Fatal("server did not answer the ping")
	}
}

func TestEventFanout(t *testing.T) {
	f := newWSFixture(t)
	conn := dialWS(t, f)
	connectAs(t, f, conn, "u-admin")

	// Give the event pump a moment to subscribe before publishing.
	deadline := time.Now().Add(time.Second)
	for f.events.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.events.Publish(bus.TopicTaskUpdated, map[string]any{"task_id": "t1"})

	frame := readWSFrame(t, conn)
	if frame.Type != "event" || frame.Event != bus.TopicTaskUpdated {
		t.Fatalf("frame = %+v, want task.updated event", frame)
	}
	data, _ := frame.Data.(map[string]any)
	if data["task_id"] != "t1" {
		t.Fatalf("data = %#v", frame.Data)
	}
}
