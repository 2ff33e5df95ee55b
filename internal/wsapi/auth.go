package wsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/openpeerpower/core/internal/auth"
)

// Authenticator resolves handshake credentials to a user. *auth.Manager
// implements it.
type Authenticator interface {
	ValidateAccessToken(ctx context.Context, token string) (*auth.User, error)
	ValidateAPIPassword(ctx context.Context, password string) (*auth.User, error)
}

// LoginRecorder tracks failed handshakes per remote address.
// *auth.LoginAttempts implements it.
type LoginRecorder interface {
	RecordFailure(remoteAddr string) (banned bool)
	Banned(remoteAddr string) bool
}

// Handshake rejection messages.
const (
	authInvalidFormat = "Auth message incorrectly formatted: "
	authInvalidCreds  = "Invalid access token or password"
)

type authMessage struct {
	Type        string  `json:"type"`
	AccessToken *string `json:"access_token"`
	APIPassword *string `json:"api_password"`
}

// parseAuth validates the single frame accepted before authentication.
func parseAuth(data []byte) (authMessage, error) {
	var msg authMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return msg, errors.New(describeDecode(err))
	}

	switch {
	case msg.Type != TypeAuth:
		return msg, errors.New("value must be one of ['auth'] @ data['type']")
	case msg.AccessToken != nil && msg.APIPassword != nil:
		return msg, errors.New("two or more values in the same group of exclusion 'password' @ data[<password>]")
	case msg.AccessToken == nil && msg.APIPassword == nil:
		return msg, errors.New("must contain one of access_token, api_password")
	}
	return msg, nil
}

// authenticate runs the handshake on the first frame. It answers auth_ok and
// returns the Connection, or answers auth_invalid and returns
// errAuthRejected.
func (h *Handler) authenticate(ctx context.Context, data []byte) (*Connection, error) {
	msg, err := parseAuth(data)
	if err != nil {
		h.logger.Warn("invalid auth message", "error", err)
		h.enqueue(AuthInvalid(authInvalidFormat + err.Error()))
		return nil, errAuthRejected
	}

	var user *auth.User
	if msg.AccessToken != nil {
		user, err = h.server.auth.ValidateAccessToken(ctx, *msg.AccessToken)
	} else {
		user, err = h.server.auth.ValidateAPIPassword(ctx, *msg.APIPassword)
	}
	if err != nil {
		h.logger.Warn("websocket authentication failed", "error", err)
		if h.server.attempts != nil && h.server.attempts.RecordFailure(h.remoteAddr) {
			h.logger.Warn("remote address banned after failed websocket logins")
		}
		h.enqueue(AuthInvalid(authInvalidCreds))
		return nil, errAuthRejected
	}

	h.logger.Debug("websocket client authenticated", "user_id", user.ID)
	h.enqueue(AuthOK(h.server.deps.Version))
	return NewConnection(ctx, h.server.deps, user, h.enqueue), nil
}
