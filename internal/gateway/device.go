package gateway

import (
	"errors"
	"net/http"

	"github.com/primehq/prime/internal/auth"
)

// Device auth endpoints implement the RFC 8628 polling flow: a CLI
// starts a grant, the operator completes it, and the CLI exchanges the
// device code for tokens.

func (s *Server) handleDeviceStart(w http.ResponseWriter, r *http.Request) {
	grant, err := s.cfg.DeviceFlow.Start(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "device_start_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleDeviceComplete(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserCode string `json:"user_code"`
		Approve  bool   `json:"approve"`
	}
	if err := readJSON(r, &in); err != nil || in.UserCode == "" {
		writeError(w, http.StatusBadRequest, "invalid_params", "user_code is required")
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	if err := s.cfg.DeviceFlow.Complete(r.Context(), in.UserCode, id.UserID, in.Approve); err != nil {
		writeError(w, http.StatusBadRequest, "device_complete_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeviceToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceCode string `json:"device_code"`
	}
	if err := readJSON(r, &in); err != nil || in.DeviceCode == "" {
		writeError(w, http.StatusBadRequest, "invalid_params", "device_code is required")
		return
	}
	pair, err := s.cfg.DeviceFlow.Token(r.Context(), in.DeviceCode)
	if err != nil {
		writeError(w, http.StatusBadRequest, deviceErrorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleDeviceRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := readJSON(r, &in); err != nil || in.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_params", "refresh_token is required")
		return
	}
	pair, err := s.cfg.DeviceFlow.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// deviceErrorCode maps flow errors to RFC 8628 response codes.
func deviceErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrAuthorizationPending):
		return "authorization_pending"
	case errors.Is(err, auth.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, auth.ErrDeviceExpired):
		return "expired_token"
	default:
		return "invalid_request"
	}
}
