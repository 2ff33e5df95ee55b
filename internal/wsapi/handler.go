package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/openpeerpower/core/internal/infrastructure/config"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
)

// Socket is the part of *websocket.Conn a Handler uses.
type Socket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// State is the lifecycle stage of a Handler.
type State int32

// Handler states.
const (
	StateConnecting State = iota
	StateAuthPhase
	StateCommandPhase
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthPhase:
		return "auth_phase"
	case StateCommandPhase:
		return "command_phase"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler owns one client socket: the auth phase, the read loop feeding the
// Connection, the bounded outbound queue and its writer, and the backlog
// watchdog.
type Handler struct {
	server     *Server
	cfg        config.WebSocketConfig
	socket     Socket
	remoteAddr string
	logger     *logging.Logger

	state atomic.Int32
	conn  atomic.Pointer[Connection]

	// cancel ends the connection; the first cause wins.
	cancel context.CancelCauseFunc

	queue chan any // Message or []byte

	mu          sync.Mutex // guards queueClosed, watchdog and sends on queue
	queueClosed bool
	watchdog    *time.Timer
}

func newHandler(s *Server, socket Socket, remoteAddr string) *Handler {
	h := &Handler{
		server:     s,
		cfg:        s.cfg,
		socket:     socket,
		remoteAddr: remoteAddr,
		logger:     s.logger.With("remote", remoteAddr),
		queue:      make(chan any, s.cfg.MaxPendingMessages),
	}
	h.state.Store(int32(StateConnecting))
	return h
}

// State returns the current lifecycle stage.
func (h *Handler) State() State {
	return State(h.state.Load())
}

// Cancel closes the connection with cause. Queued messages are still
// delivered, bounded by the drain timeout.
func (h *Handler) Cancel(cause error) {
	h.cancel(cause)
}

func (h *Handler) setState(s State) {
	h.state.Store(int32(s))
}

// run serves the socket until it closes and returns the disconnect cause.
// ctx must carry h.cancel.
func (h *Handler) run(ctx context.Context) error {
	h.setState(StateAuthPhase)
	h.logger.Debug("websocket client connected")

	// Unblock a pending read as soon as the connection is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = h.socket.SetReadDeadline(time.Now()) //nolint:errcheck // socket may already be gone
	})
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		h.writeLoop(ctx)
		return nil
	})
	g.Go(func() error {
		defer h.closeQueue()
		h.enqueue(AuthRequired(h.server.deps.Version))
		h.cancel(h.readLoop(ctx))

		h.setState(StateClosing)
		if conn := h.conn.Load(); conn != nil {
			conn.Close()
		}
		return nil
	})
	_ = g.Wait() //nolint:errcheck // both loops report through the cancel cause

	h.stopWatchdog()
	_ = h.socket.Close() //nolint:errcheck // closing an already closed socket is harmless
	h.setState(StateClosed)

	cause := context.Cause(ctx)
	if conn := h.conn.Load(); conn != nil {
		h.server.disconnected(conn, cause)
	}
	h.logDisconnect(cause)
	return cause
}

func (h *Handler) logDisconnect(cause error) {
	switch {
	case errors.Is(cause, errClientClosed), errors.Is(cause, errServerShutdown):
		h.logger.Debug("websocket client disconnected", "reason", cause.Error())
	default:
		h.logger.Warn("websocket client disconnected", "reason", cause.Error())
	}
}

// readLoop runs the auth phase and then feeds frames to the Connection until
// the socket fails or the connection is cancelled. It returns the reason.
func (h *Handler) readLoop(ctx context.Context) error {
	if err := h.setReadDeadline(ctx, time.Now().Add(h.cfg.AuthTimeoutDuration())); err != nil {
		return err
	}
	msgType, data, err := h.socket.ReadMessage()
	if err != nil {
		return h.readError(ctx, err, true)
	}
	if err := checkFrame(msgType, data); err != nil {
		return err
	}

	conn, err := h.authenticate(ctx, data)
	if err != nil {
		return err
	}
	h.conn.Store(conn)
	h.setState(StateCommandPhase)
	h.server.connected(conn)

	if err := h.setReadDeadline(ctx, time.Time{}); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		msgType, data, err := h.socket.ReadMessage()
		if err != nil {
			return h.readError(ctx, err, false)
		}
		if err := checkFrame(msgType, data); err != nil {
			return err
		}
		h.server.metrics.messageReceived()
		conn.Dispatch(ctx, data)
	}
}

// setReadDeadline sets t and then checks ctx, so a cancellation racing with
// the call is never overwritten by t.
func (h *Handler) setReadDeadline(ctx context.Context, t time.Time) error {
	if err := h.socket.SetReadDeadline(t); err != nil {
		return fmt.Errorf("%w: %v", errClientClosed, err) //nolint:errorlint // reason is the sentinel
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

func (h *Handler) readError(ctx context.Context, err error, authPhase bool) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	var netErr net.Error
	if authPhase && errors.As(err, &netErr) && netErr.Timeout() {
		return errAuthTimeout
	}
	return fmt.Errorf("%w: %v", errClientClosed, err) //nolint:errorlint // reason is the sentinel
}

func checkFrame(msgType int, data []byte) error {
	if msgType != websocket.TextMessage {
		return errNonText
	}
	if !json.Valid(data) {
		return errInvalidJSON
	}
	return nil
}

// enqueue adds item to the outbound queue without blocking. A full queue
// cancels the connection; reaching the peak arms the backlog watchdog.
func (h *Handler) enqueue(item any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.queueClosed {
		return
	}
	select {
	case h.queue <- item:
	default:
		h.logger.Error("client exceeded max pending messages", "max", cap(h.queue))
		h.server.metrics.backpressure("hard_limit")
		h.cancel(errQueueFull)
		return
	}

	if h.watchdog == nil && len(h.queue) >= h.cfg.PendingMessagesPeak {
		var t *time.Timer
		t = time.AfterFunc(h.cfg.PeakBacklogGraceDuration(), func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.checkBacklog(t)
		})
		h.watchdog = t
	}
}

// checkBacklog runs when watchdog t fires. Callers hold h.mu.
func (h *Handler) checkBacklog(t *time.Timer) {
	if h.watchdog != t {
		return // stopped and replaced after firing
	}
	h.watchdog = nil
	if len(h.queue) < h.cfg.PendingMessagesPeak {
		return
	}
	h.logger.Error("client unable to keep up with pending messages",
		"pending", len(h.queue),
		"peak", h.cfg.PendingMessagesPeak,
		"grace", h.cfg.PeakBacklogGraceDuration(),
	)
	h.server.metrics.backpressure("peak_backlog")
	h.cancel(errClientTooSlow)
}

// releaseWatchdog disarms the watchdog once the queue is below the peak.
func (h *Handler) releaseWatchdog() {
	if len(h.queue) >= h.cfg.PendingMessagesPeak {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchdog != nil && len(h.queue) < h.cfg.PendingMessagesPeak {
		h.watchdog.Stop()
		h.watchdog = nil
	}
}

func (h *Handler) stopWatchdog() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchdog != nil {
		h.watchdog.Stop()
		h.watchdog = nil
	}
}

// closeQueue is the writer's stop signal. Items already queued are still
// written.
func (h *Handler) closeQueue() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.queueClosed {
		h.queueClosed = true
		close(h.queue)
	}
}

// writeLoop writes queued items until the queue is closed. After the
// connection is cancelled it keeps draining for at most the drain timeout;
// after a write error it discards the rest.
func (h *Handler) writeLoop(ctx context.Context) {
	var (
		failed  bool
		drainBy time.Time
	)

	for item := range h.queue {
		h.releaseWatchdog()
		if failed {
			continue
		}

		if ctx.Err() != nil {
			if drainBy.IsZero() {
				drainBy = time.Now().Add(h.cfg.DrainTimeoutDuration())
			}
			if time.Now().After(drainBy) {
				h.logger.Warn("drain timeout reached, dropping pending messages", "pending", len(h.queue)+1)
				failed = true
				continue
			}
		}

		data := h.encode(item)
		if data == nil {
			continue
		}

		deadline := time.Now().Add(h.cfg.WriteTimeoutDuration())
		if !drainBy.IsZero() && drainBy.Before(deadline) {
			deadline = drainBy
		}
		_ = h.socket.SetWriteDeadline(deadline) //nolint:errcheck // write error is caught below
		if err := h.socket.WriteMessage(websocket.TextMessage, data); err != nil {
			failed = true
			h.cancel(fmt.Errorf("%w: %v", errWriteFailed, err)) //nolint:errorlint // reason is the sentinel
			continue
		}
		h.server.metrics.messageSent()
	}

	if failed {
		return
	}
	code := websocket.CloseNormalClosure
	if errors.Is(context.Cause(ctx), errServerShutdown) {
		code = websocket.CloseGoingAway
	}
	_ = h.socket.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeoutDuration())) //nolint:errcheck // best effort
	//nolint:errcheck // best effort close frame, the peer may already be gone
	_ = h.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
}

func (h *Handler) encode(item any) []byte {
	switch v := item.(type) {
	case []byte:
		return v
	case Message:
		data, err := encodeOrError(v)
		if err != nil {
			h.logger.Error("unable to serialize message", "id", v["id"], "error", err)
		}
		return data
	default:
		h.logger.Error("dropping message of unexpected type", "type", fmt.Sprintf("%T", item))
		return nil
	}
}
