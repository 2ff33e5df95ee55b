// Package wsapi implements the Open Peer Power WebSocket API.
//
// A client connects to /api/websocket, receives auth_required and must
// answer with a single auth frame carrying an access token or the legacy API
// password. After auth_ok every frame is a command:
//
//	{"id": 1, "type": "subscribe_events", "event_type": "state_changed"}
//
// Ids must strictly increase per connection. Every command is answered by
// exactly one result message with the same id; subscribing commands then
// push event messages under that id until unsubscribed or disconnected.
//
// # Components
//
//   - Registry: command name to handler table, built once and frozen
//   - Handler: owns the socket, the bounded outbound queue, the writer and
//     the backlog watchdog
//   - Connection: the authenticated session; dispatches commands and owns
//     the subscription table
//   - Server: HTTP upgrade endpoint tracking every live Handler
//
// # Backpressure
//
// Each connection has an outbound queue of MaxPendingMessages. Overflowing it
// closes the connection at once. Holding the queue at or above
// PendingMessagesPeak for PeakBacklogGrace closes it as well.
//
// # Registering commands
//
//	registry := wsapi.NewRegistry()
//	err := registry.Register(
//	    wsapi.Immediate("my_command", handleMyCommand),
//	    wsapi.Deferred("my_slow_command", handleSlow, wsapi.RequireAdmin()),
//	)
//	registry.Freeze()
package wsapi
