package wsapi

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/openpeerpower/core/internal/auth"
	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/infrastructure/config"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
)

// Observer is told when an authenticated connection opens and closes.
type Observer interface {
	Connected(user *auth.User)
	Disconnected(user *auth.User)
}

// Options configures a Server.
type Options struct {
	Config    config.WebSocketConfig
	Deps      Deps
	Auth      Authenticator
	Attempts  LoginRecorder // optional
	Metrics   *Metrics      // optional
	Observers []Observer
}

// Server is the HTTP endpoint upgrading requests to WebSocket API
// connections. It tracks every live connection so they can be closed on
// shutdown.
type Server struct {
	cfg       config.WebSocketConfig
	deps      Deps
	auth      Authenticator
	attempts  LoginRecorder
	metrics   *Metrics
	observers []Observer
	logger    *logging.Logger
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	handlers map[*Handler]struct{}
	closing  bool
	wg       sync.WaitGroup

	unlistenStop func()
}

// NewServer creates a Server. When opts.Deps.Hub is set the server closes
// every connection as soon as the hub fires openpeerpower_stop.
func NewServer(opts Options) *Server {
	logger := opts.Deps.Logger
	if logger == nil {
		logger = logging.Discard()
		opts.Deps.Logger = logger
	}

	s := &Server{
		cfg:       opts.Config,
		deps:      opts.Deps,
		auth:      opts.Auth,
		attempts:  opts.Attempts,
		metrics:   opts.Metrics,
		observers: opts.Observers,
		logger:    logger.Component("websocket_api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Origin checking is handled by CORS middleware
				return true
			},
		},
		handlers: make(map[*Handler]struct{}),
	}
	s.deps.Logger = s.logger

	if opts.Deps.Hub != nil {
		s.unlistenStop = opts.Deps.Hub.Bus.Listen(core.EventOppStop, func(core.Event) {
			s.cancelAll(errServerShutdown)
		})
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until it closes.
// Banned addresses get 403 before the upgrade.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.attempts != nil && s.attempts.Banned(r.RemoteAddr) {
		s.logger.Warn("rejected websocket connection from banned address", "remote", auth.RemoteHost(r.RemoteAddr))
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	if s.isClosing() {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	if s.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(int64(s.cfg.MaxMessageSize))
	}

	// The request context ends when ServeHTTP returns; the connection has
	// its own lifetime.
	_ = s.Serve(context.WithoutCancel(r.Context()), ws, r.RemoteAddr) //nolint:errcheck // cause already logged
}

// Serve runs the protocol on an established socket until it closes and
// returns the disconnect reason.
func (s *Server) Serve(ctx context.Context, socket Socket, remoteAddr string) error {
	h := newHandler(s, socket, remoteAddr)
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(errFinished)
	h.cancel = cancel

	if !s.track(h) {
		cancel(errServerShutdown)
	} else {
		defer s.untrack(h)
	}
	return h.run(ctx)
}

// ActiveConnections returns the number of live sockets, authenticated or
// not.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Metrics returns the server's collectors, possibly nil.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Shutdown refuses new connections, cancels every live one and waits until
// they have drained and closed or ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unlistenStop != nil {
		s.unlistenStop()
	}
	s.cancelAll(errServerShutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("websocket connections closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) cancelAll(cause error) {
	s.mu.Lock()
	s.closing = true
	handlers := make([]*Handler, 0, len(s.handlers))
	for h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	if len(handlers) > 0 {
		s.logger.Info("closing websocket connections", "count", len(handlers))
	}
	for _, h := range handlers {
		h.Cancel(cause)
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// track registers h unless the server is shutting down.
func (s *Server) track(h *Handler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.handlers[h] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(h *Handler) {
	s.mu.Lock()
	delete(s.handlers, h)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) connected(conn *Connection) {
	s.metrics.connected()
	for _, o := range s.observers {
		o.Connected(conn.User)
	}
}

func (s *Server) disconnected(conn *Connection, cause error) {
	s.metrics.disconnected(disconnectLabel(cause))
	for _, o := range s.observers {
		o.Disconnected(conn.User)
	}
}

// disconnectLabel keeps the metric's label set bounded.
func disconnectLabel(cause error) string {
	for _, known := range []struct {
		err   error
		label string
	}{
		{errClientClosed, "client_closed"},
		{errServerShutdown, "shutdown"},
		{errQueueFull, "queue_full"},
		{errClientTooSlow, "too_slow"},
		{errNonText, "protocol"},
		{errInvalidJSON, "protocol"},
		{errWriteFailed, "write_failed"},
	} {
		if errors.Is(cause, known.err) {
			return known.label
		}
	}
	return "other"
}
