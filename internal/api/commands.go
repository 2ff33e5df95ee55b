package api

import (
	"context"

	"github.com/openpeerpower/core/internal/wsapi"
)

// CmdCurrentUser is the WebSocket command returning the connection's user.
const CmdCurrentUser = "auth/current_user"

type currentUserMsg struct {
	wsapi.Envelope
}

// RegisterCommands adds the auth-related WebSocket commands to r.
func RegisterCommands(r *wsapi.Registry) error {
	return r.Register(wsapi.Immediate(CmdCurrentUser, handleCurrentUser))
}

func handleCurrentUser(_ context.Context, conn *wsapi.Connection, msg *currentUserMsg) error {
	user := conn.User
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	conn.SendResult(msg.ID, map[string]any{
		"id":       user.ID,
		"name":     name,
		"is_owner": user.IsOwner(),
		"is_admin": user.IsAdmin(),
	})
	return nil
}
