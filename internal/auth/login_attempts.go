package auth

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openpeerpower/core/internal/infrastructure/config"
)

// LoginAttempts records failed logins per remote address and bans an
// address once it fails more than Threshold times faster than one per
// Window/Threshold. Bans last until Unban. It is safe for concurrent use.
type LoginAttempts struct {
	mu       sync.Mutex
	enabled  bool
	limit    rate.Limit
	burst    int
	window   time.Duration
	limiters map[string]*attemptBucket
	banned   map[string]time.Time

	now    func() time.Time
	logger *slog.Logger
}

type attemptBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLoginAttempts creates a recorder from the login_attempts config.
func NewLoginAttempts(cfg config.LoginAttemptsConfig, logger *slog.Logger) *LoginAttempts {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := max(cfg.Threshold, 1)
	window := time.Duration(cfg.Window) * time.Second
	if window <= 0 {
		window = 5 * time.Minute //nolint:mnd // default window
	}
	return &LoginAttempts{
		enabled:  cfg.Enabled,
		limit:    rate.Every(window / time.Duration(threshold)),
		burst:    threshold - 1,
		window:   window,
		limiters: make(map[string]*attemptBucket),
		banned:   make(map[string]time.Time),
		now:      time.Now,
		logger:   logger,
	}
}

// RecordFailure notes one failed login from remoteAddr and reports whether
// the address is now banned.
func (a *LoginAttempts) RecordFailure(remoteAddr string) bool {
	host := RemoteHost(remoteAddr)
	a.logger.Warn("login attempt failed", "remote", host)
	if !a.enabled {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.banned[host]; ok {
		return true
	}

	now := a.now()
	bucket, ok := a.limiters[host]
	if !ok {
		bucket = &attemptBucket{limiter: rate.NewLimiter(a.limit, a.burst)}
		a.limiters[host] = bucket
	}
	bucket.lastSeen = now

	if bucket.limiter.AllowN(now, 1) {
		return false
	}

	a.banned[host] = now
	delete(a.limiters, host)
	a.logger.Warn("banned remote address after repeated login failures", "remote", host)
	return true
}

// Banned reports whether remoteAddr is currently banned.
func (a *LoginAttempts) Banned(remoteAddr string) bool {
	if !a.enabled {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.banned[RemoteHost(remoteAddr)]
	return ok
}

// Unban lifts a ban and forgets previous failures.
func (a *LoginAttempts) Unban(remoteAddr string) {
	host := RemoteHost(remoteAddr)
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.banned, host)
	delete(a.limiters, host)
}

// Prune forgets failure history older than the window. Bans are kept.
func (a *LoginAttempts) Prune() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-a.window)
	removed := 0
	for host, bucket := range a.limiters {
		if bucket.lastSeen.Before(cutoff) {
			delete(a.limiters, host)
			removed++
		}
	}
	return removed
}

// PruneLoop runs Prune once per window until ctx is cancelled.
func (a *LoginAttempts) PruneLoop(ctx context.Context) {
	ticker := time.NewTicker(a.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Prune(); n > 0 {
				a.logger.Debug("pruned login attempt history", "removed", n)
			}
		}
	}
}

// RemoteHost strips the port from an address; values without a port are
// returned unchanged.
func RemoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
