package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openpeerpower/core/internal/auth"
	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/infrastructure/config"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
	"github.com/openpeerpower/core/internal/wsapi"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// and WebSocket connections to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Authenticator issues and validates tokens. *auth.Manager implements it.
type Authenticator interface {
	Login(ctx context.Context, username, password, clientName string) (*auth.TokenPair, *auth.User, error)
	Refresh(ctx context.Context, rawRefresh string) (*auth.TokenPair, error)
	Revoke(ctx context.Context, rawRefresh string) error
	ValidateAccessToken(ctx context.Context, token string) (*auth.User, error)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Security  config.SecurityConfig
	WSPath    string
	Logger    *logging.Logger
	Hub       *core.Hub
	Auth      Authenticator
	Attempts  wsapi.LoginRecorder // optional
	WebSocket *wsapi.Server
	Gatherer  prometheus.Gatherer      // optional, enables /metrics
	Health    map[string]HealthChecker // optional, reported by /api/health
	Version   string
}

// Server is the HTTP API server for Open Peer Power Core.
//
// It manages the HTTP listener, routes and middleware. The WebSocket
// endpoint is delegated to the wsapi.Server.
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	wsPath    string
	logger    *logging.Logger
	hub       *core.Hub
	auth      Authenticator
	attempts  wsapi.LoginRecorder
	ws        *wsapi.Server
	gatherer  prometheus.Gatherer
	health    map[string]HealthChecker
	version   string
	limiter   *ipLimiter
	startTime time.Time

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // stops background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Hub == nil {
		return nil, errors.New("hub is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	wsPath := deps.WSPath
	if wsPath == "" {
		wsPath = "/api/websocket"
	}

	s := &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		wsPath:    wsPath,
		logger:    deps.Logger.Component("http"),
		hub:       deps.Hub,
		auth:      deps.Auth,
		attempts:  deps.Attempts,
		ws:        deps.WebSocket,
		gatherer:  deps.Gatherer,
		health:    deps.Health,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if deps.Security.RateLimit.Enabled && deps.Security.RateLimit.RequestsPerMinute > 0 {
		s.limiter = newIPLimiter(deps.Security.RateLimit.RequestsPerMinute)
	}
	return s, nil
}

// Handler returns the router with every route and middleware mounted.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is opened synchronously so a busy port is reported here;
// requests are then served in a background goroutine until Close().
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if s.limiter != nil {
		go s.limiter.cleanLoop(srvCtx)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// WebSocket connections are hijacked and invisible to http.Server, so they
// are closed through the wsapi server first. Both get up to
// gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	var errs []error
	if s.ws != nil {
		if err := s.ws.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing websocket connections: %w", err))
		}
	}
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down API server: %w", err))
	}
	return errors.Join(errs...)
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
