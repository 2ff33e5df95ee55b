package wsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/openpeerpower/core/internal/auth"
	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
	"github.com/openpeerpower/core/internal/template"
)

// Deps bundles the collaborators shared by every connection.
type Deps struct {
	Hub      *core.Hub
	Renderer *template.Renderer
	Registry *Registry
	Logger   *logging.Logger
	Version  string
}

// Connection is an authenticated session. It turns command frames into
// handler calls and owns the subscriptions opened by those handlers.
//
// Dispatch must only be called from one goroutine. Every other method is
// safe for concurrent use; deferred handlers and bus listeners call them from
// their own goroutines.
type Connection struct {
	Hub      *core.Hub
	Renderer *template.Renderer
	User     *auth.User

	registry *Registry
	logger   *logging.Logger
	send     func(item any)

	lastID int // owned by the dispatching goroutine

	mu            sync.Mutex
	subscriptions map[int]func()
	closed        bool

	ctx       context.Context
	cancel    context.CancelFunc
	tasks     errgroup.Group
	closeOnce sync.Once
}

// NewConnection creates a session for user. send receives every outbound
// Message, or pre-encoded []byte, in order. Deferred handlers run under a
// context derived from ctx.
func NewConnection(ctx context.Context, deps Deps, user *auth.User, send func(item any)) *Connection {
	ctx, cancel := context.WithCancel(ctx)
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Connection{
		Hub:           deps.Hub,
		Renderer:      deps.Renderer,
		User:          user,
		registry:      deps.Registry,
		logger:        logger.With("user_id", user.ID),
		send:          send,
		subscriptions: make(map[int]func()),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Dispatch handles one command frame. Every outcome, including a malformed
// frame, produces exactly one result for the client; nothing is returned.
//
// The id watermark advances once a frame passes the envelope and ordering
// checks, whatever happens to the command afterwards. An id is therefore
// never accepted twice.
func (c *Connection) Dispatch(ctx context.Context, raw []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		c.rejectEnvelope(nil, raw)
		return
	}

	id, idOK := parseID(fields["id"])
	var msgType string
	typeOK := fields["type"] != nil && json.Unmarshal(fields["type"], &msgType) == nil && msgType != ""
	if !idOK || !typeOK {
		c.rejectEnvelope(fields["id"], raw)
		return
	}

	if id <= c.lastID {
		c.SendError(id, CodeIDReuse, "Identifier values have to increase.")
		return
	}
	c.lastID = id

	cmd, ok := c.registry.Lookup(msgType)
	if !ok {
		c.logger.Info("received unknown command", "type", msgType)
		c.SendError(id, CodeUnknownCommand, "Unknown command.")
		return
	}
	if cmd.adminOnly && !c.User.IsAdmin() {
		c.HandleError(id, &core.UnauthorizedError{UserID: c.User.ID})
		return
	}

	invoke, err := cmd.prepare(raw)
	if err != nil {
		c.HandleError(id, err)
		return
	}

	if !cmd.deferred {
		c.run(ctx, id, msgType, invoke)
		return
	}
	c.spawn(func(taskCtx context.Context) {
		c.run(taskCtx, id, msgType, invoke)
	})
}

func (c *Connection) rejectEnvelope(rawID json.RawMessage, raw []byte) {
	const maxLogged = 256
	logged := raw
	if len(logged) > maxLogged {
		logged = logged[:maxLogged]
	}
	c.logger.Error("received invalid command", "message", string(logged))

	var id any
	if rawID != nil {
		_ = json.Unmarshal(rawID, &id) //nolint:errcheck // echo is best effort, nil on failure
	}
	c.Send(resultError(id, CodeInvalidFormat, "Message incorrectly formatted."))
}

// parseID accepts a positive JSON integer.
func parseID(raw json.RawMessage) (int, bool) {
	if raw == nil {
		return 0, false
	}
	var id int
	if err := json.Unmarshal(raw, &id); err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// spawn runs fn in the connection's task group. Once Close has started new
// work is dropped.
func (c *Connection) spawn(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.tasks.Go(func() error {
		fn(c.ctx)
		return nil
	})
}

// run invokes a handler and converts its failure, or panic, into a result.
func (c *Connection) run(ctx context.Context, id int, msgType string, invoke func(context.Context, *Connection) error) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("command handler panicked",
				"id", id,
				"type", msgType,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			c.SendError(id, CodeUnknownError, "Unknown error")
		}
	}()

	if err := invoke(ctx, c); err != nil {
		c.HandleError(id, err)
	}
}

// HandleError answers command id with the wire form of err. Unrecognised
// errors are logged in full and reported to the client only as
// unknown_error.
func (c *Connection) HandleError(id int, err error) {
	code, message, known := describeError(err)
	if known {
		c.logger.Debug("command failed", "id", id, "code", code, "error", err)
	} else {
		c.logger.Error("error handling command", "id", id, "error", err)
	}
	c.SendError(id, code, message)
}

// Send queues msg for the client.
func (c *Connection) Send(msg Message) {
	c.send(msg)
}

// SendResult answers command id successfully.
func (c *Connection) SendResult(id int, payload any) {
	c.send(ResultOK(id, payload))
}

// SendBigResult is SendResult for large payloads. The payload is encoded on
// the calling goroutine instead of the writer, so a slow encode never holds
// up unrelated messages.
func (c *Connection) SendBigResult(id int, payload any) {
	data, err := encodeOrError(ResultOK(id, payload))
	if err != nil {
		c.logger.Error("unable to serialize result", "id", id, "error", err)
	}
	if data != nil {
		c.send(data)
	}
}

// SendError answers command id with a failure.
func (c *Connection) SendError(id int, code, message string) {
	c.send(ResultError(id, code, message))
}

// SendEvent pushes payload to the subscription opened by command id.
func (c *Connection) SendEvent(id int, payload any) {
	c.send(Event(id, payload))
}

// NewContext returns a fresh context attributed to the connection's user.
func (c *Connection) NewContext() core.Context {
	return core.NewContext(c.User.ID, "")
}

// Permissions returns the user's entity policy. A user without one resolved
// gets no entity access unless they are an admin.
func (c *Connection) Permissions() auth.Permissions {
	if c.User.Permissions != nil {
		return c.User.Permissions
	}
	return auth.PermissionsFor(c.User, nil)
}

// AddSubscription stores unsubscribe under command id. When the connection
// is already closed unsubscribe runs immediately.
func (c *Connection) AddSubscription(id int, unsubscribe func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsubscribe()
		return
	}
	previous := c.subscriptions[id]
	c.subscriptions[id] = unsubscribe
	c.mu.Unlock()

	if previous != nil {
		previous()
	}
}

// RemoveSubscription unsubscribes command id and reports whether it existed.
func (c *Connection) RemoveSubscription(id int) bool {
	c.mu.Lock()
	unsubscribe, ok := c.subscriptions[id]
	delete(c.subscriptions, id)
	c.mu.Unlock()

	if ok {
		c.unsubscribe(id, unsubscribe)
	}
	return ok
}

// Subscriptions returns the number of open subscriptions.
func (c *Connection) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

// Close cancels outstanding deferred handlers, waits for them, then runs
// every remaining unsubscribe callback once. It is idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		_ = c.tasks.Wait() //nolint:errcheck // tasks report through results, never errors

		c.mu.Lock()
		subs := c.subscriptions
		c.subscriptions = make(map[int]func())
		c.mu.Unlock()

		for id, unsubscribe := range subs {
			c.unsubscribe(id, unsubscribe)
		}
	})
}

func (c *Connection) unsubscribe(id int, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("unsubscribe panicked", "id", id, "panic", fmt.Sprint(p))
		}
	}()
	fn()
}
