package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/primehq/prime/internal/channels"
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
	a, err := NewAdapter(Config{
		AccessToken:   "token",
		PhoneNumberID: "555",
		AppSecret:     "secret",
		VerifyToken:   "verify-me",
	}, h)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a, h
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const deliveryBody = `{
	"entry": [{
		"changes": [{
			"value": {
				"metadata": {"phone_number_id": "555"},
				"contacts": [{"wa_id": "15551234", "profile": {"name": "Alice"}}],
				"messages": [{"from": "15551234", "type": "text", "text": {"body": "hi there"}}]
			}
		}]
	}]
}`

func TestVerifyHandshake(t *testing.T) {
	a, _ := newTestAdapter(t)

	req := httptest.NewRequest("GET", "/hooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	if rec.Code != 200 || rec.Body.String() != "12345" {
		t.Fatalf("handshake: status %d body %q", rec.Code, rec.Body.String())
	}
}

func TestVerifyHandshakeRejectsBadToken(t *testing.T) {
	a, _ := newTestAdapter(t)

	req := httptest.NewRequest("GET", "/hooks/whatsapp?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", nil)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	if rec.Code != 403 {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestDeliveryDispatchesTextMessage(t *testing.T) {
	a, h := newTestAdapter(t)

	body := []byte(deliveryBody)
	req := httptest.NewRequest("POST", "/hooks/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("secret", body))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(h.inbound) != 1 {
		t.Fatalf("expected 1 inbound, got %d", len(h.inbound))
	}
	in := h.inbound[0]
	if in.Peer != "15551234" || in.SenderName != "Alice" || in.Text != "hi there" {
		t.Fatalf("unexpected inbound %+v", in)
	}
	if in.AccountID != "555" {
		t.Fatalf("account id = %q", in.AccountID)
	}
}

func TestDeliveryRejectsBadSignature(t *testing.T) {
	a, h := newTestAdapter(t)

	body := []byte(deliveryBody)
	req := httptest.NewRequest("POST", "/hooks/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("wrong", body))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(h.inbound) != 0 {
		t.Fatal("tampered delivery must not dispatch")
	}
}

func TestDeliverySkipsNonText(t *testing.T) {
	a, h := newTestAdapter(t)

	body := []byte(`{"entry":[{"changes":[{"value":{"messages":[{"from":"1","type":"image"}]}}]}]}`)
	req := httptest.NewRequest("POST", "/hooks/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("secret", body))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	if len(h.inbound) != 0 {
		t.Fatal("non-text message should be skipped")
	}
}

func TestSendTextPostsToGraphAPI(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &got)
		w.Write([]byte(`{"messages":[{"id":"wamid.X"}]}`))
	}))
	defer srv.Close()

	h := &captureHandler{}
	a, err := NewAdapter(Config{
		AccessToken:   "token",
		PhoneNumberID: "555",
		AppSecret:     "secret",
		VerifyToken:   "verify-me",
		GraphBase:     srv.URL,
	}, h)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	if err := a.SendText(context.Background(), "15551234", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if auth != "Bearer token" {
		t.Fatalf("auth = %q", auth)
	}
	if got["to"] != "15551234" {
		t.Fatalf("to = %v", got["to"])
	}
	text, _ := got["text"].(map[string]any)
	if text["body"] != "hello" {
		t.Fatalf("body = %v", text)
	}
}
