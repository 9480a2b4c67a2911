package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const maxHookBody = 1 << 20

// handleWebhook is the /hooks/{path} ingress. Deliveries to hooks with
// a secret must carry a valid HMAC-SHA256 signature over the raw body.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	hook, err := s.cfg.Store.FindWebhookByPath(r.Context(), r.PathValue("path"))
	if err != nil || hook == nil || !hook.Active {
		writeError(w, http.StatusNotFound, "not_found", "unknown hook")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "unreadable body")
		return
	}
	defer r.Body.Close()

	if hook.Secret != "" && !validHookSignature(hook.Secret, r.Header.Get("X-Signature-256"), body) {
		writeError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
		return
	}

	payload := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_params", "body must be a JSON object")
			return
		}
	}

	if err := s.cfg.Webhooks.DispatchWebhook(r.Context(), hook, payload); err != nil {
		s.logger.Error("webhook dispatch failed", "hook", hook.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "dispatch_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func validHookSignature(secret, header string, body []byte) bool {
	header = strings.TrimPrefix(header, "sha256=")
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(header)))
}
