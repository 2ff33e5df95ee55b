package api

import (
	"errors"
	"net/http"

	"github.com/openpeerpower/core/internal/auth"
)

// Grant types accepted by POST /auth/token.
const (
	grantPassword     = "password"
	grantRefreshToken = "refresh_token"
)

// tokenError is the RFC 6749 error body used by the token endpoint.
type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, tokenError{Error: code, Description: description})
}

// handleToken implements the token endpoint. The form body carries either
// grant_type=password (username, password, client_id), grant_type=
// refresh_token (refresh_token), or action=revoke (token).
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.attempts != nil && s.attempts.Banned(r.RemoteAddr) {
		writeTokenError(w, http.StatusForbidden, ErrCodeForbidden, "address banned after repeated failed logins")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed form body")
		return
	}
	form := r.PostForm

	if form.Get("action") == "revoke" {
		if err := s.auth.Revoke(r.Context(), form.Get("token")); err != nil {
			s.logger.Error("revoking refresh token", "error", err)
			writeInternalError(w, "failed to revoke token")
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	var (
		pair *auth.TokenPair
		err  error
	)
	switch form.Get("grant_type") {
	case grantPassword:
		username, password := form.Get("username"), form.Get("password")
		if username == "" || password == "" {
			writeTokenError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "username and password are required")
			return
		}
		pair, _, err = s.auth.Login(r.Context(), username, password, form.Get("client_id"))

	case grantRefreshToken:
		refresh := form.Get("refresh_token")
		if refresh == "" {
			writeTokenError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "refresh_token is required")
			return
		}
		pair, err = s.auth.Refresh(r.Context(), refresh)

	default:
		writeTokenError(w, http.StatusBadRequest, ErrCodeUnsupportedType, "grant_type must be password or refresh_token")
		return
	}

	switch {
	case err == nil:
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, pair)
	case isGrantError(err):
		s.logger.Warn("token request rejected", "grant_type", form.Get("grant_type"), "error", err)
		if s.attempts != nil && s.attempts.RecordFailure(r.RemoteAddr) {
			s.logger.Warn("remote address banned after failed logins", "remote", auth.RemoteHost(r.RemoteAddr))
		}
		writeTokenError(w, http.StatusBadRequest, ErrCodeInvalidGrant, "invalid credentials")
	default:
		s.logger.Error("token request failed", "error", err)
		writeInternalError(w, "failed to issue token")
	}
}

// isGrantError reports failures caused by the presented credentials.
func isGrantError(err error) bool {
	for _, target := range []error{
		auth.ErrInvalidCredentials,
		auth.ErrUserInactive,
		auth.ErrUserNotFound,
		auth.ErrTokenInvalid,
		auth.ErrTokenExpired,
		auth.ErrTokenRevoked,
		auth.ErrTokenReuse,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
