package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openpeerpower/core/internal/infrastructure/config"
)

// LegacyUserID identifies the synthetic user behind api_password logins.
const LegacyUserID = "legacy-api-password"

const tokenTypeBearer = "Bearer"

// Manager ties the repositories together into login, refresh and
// validation flows. It is safe for concurrent use.
type Manager struct {
	users  UserRepository
	tokens TokenRepository
	access EntityAccessRepository

	secret      string
	accessTTL   int // minutes
	refreshTTL  int // minutes
	apiPassword string

	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a Manager using the security section of the config.
func NewManager(cfg config.SecurityConfig, users UserRepository, tokens TokenRepository, access EntityAccessRepository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		users:       users,
		tokens:      tokens,
		access:      access,
		secret:      cfg.JWT.Secret,
		accessTTL:   cfg.JWT.AccessTokenTTL,
		refreshTTL:  cfg.JWT.RefreshTokenTTL,
		apiPassword: cfg.APIPassword,
		now:         time.Now,
		logger:      logger,
	}
}

// Login verifies a username/password pair and opens a new session.
// Unknown users, wrong passwords and inactive accounts all return
// ErrInvalidCredentials so callers cannot probe for usernames.
func (m *Manager) Login(ctx context.Context, username, password, clientName string) (*TokenPair, *User, error) {
	user, err := m.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			burnPasswordCheck(password)
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok || !user.IsActive {
		return nil, nil, ErrInvalidCredentials
	}

	raw, err := GenerateRefreshToken()
	if err != nil {
		return nil, nil, err
	}
	rt := &RefreshToken{
		UserID:     user.ID,
		TokenHash:  HashToken(raw),
		ClientName: clientName,
		ExpiresAt:  m.now().Add(m.refreshLifetime()),
	}
	if err := m.tokens.Create(ctx, rt); err != nil {
		return nil, nil, err
	}

	pair, err := m.issue(user, rt.ID, raw)
	if err != nil {
		return nil, nil, err
	}
	m.logger.Info("user logged in", "user_id", user.ID, "client", clientName)
	return pair, user, nil
}

// Refresh exchanges a refresh token for a new token pair. The presented
// token is revoked; presenting it again revokes its whole family and
// returns ErrTokenReuse.
func (m *Manager) Refresh(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	rt, err := m.tokens.GetByTokenHash(ctx, HashToken(rawRefresh))
	if err != nil {
		return nil, err
	}

	if rt.Revoked {
		if err := m.tokens.RevokeFamily(ctx, rt.FamilyID); err != nil {
			return nil, err
		}
		m.logger.Warn("refresh token reuse detected, session family revoked",
			"user_id", rt.UserID, "family_id", rt.FamilyID)
		return nil, ErrTokenReuse
	}
	if !m.now().Before(rt.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	user, err := m.users.GetByID(ctx, rt.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	raw, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	next := &RefreshToken{
		UserID:     user.ID,
		FamilyID:   rt.FamilyID,
		TokenHash:  HashToken(raw),
		ClientName: rt.ClientName,
		ExpiresAt:  m.now().Add(m.refreshLifetime()),
	}
	if err := m.tokens.RotateRefreshToken(ctx, rt.ID, next); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return nil, ErrTokenReuse
		}
		return nil, err
	}

	return m.issue(user, next.ID, raw)
}

// Revoke ends the session behind a raw refresh token. Unknown tokens are
// not an error.
func (m *Manager) Revoke(ctx context.Context, rawRefresh string) error {
	rt, err := m.tokens.GetByTokenHash(ctx, HashToken(rawRefresh))
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return nil
		}
		return err
	}
	return m.tokens.Revoke(ctx, rt.ID)
}

// ValidateAccessToken resolves an access token to its user with
// Permissions filled in. The token's session must still be live and the
// user active.
func (m *Manager) ValidateAccessToken(ctx context.Context, token string) (*User, error) {
	claims, err := ParseAccessToken(token, m.secret)
	if err != nil {
		return nil, err
	}

	rt, err := m.tokens.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if rt.Revoked {
		return nil, ErrTokenRevoked
	}
	if !m.now().Before(rt.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	if rt.UserID != claims.Subject {
		return nil, fmt.Errorf("%w: session belongs to another user", ErrTokenInvalid)
	}

	user, err := m.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	perms, err := m.access.ResolvePolicy(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("resolving permissions: %w", err)
	}
	user.Permissions = perms
	return user, nil
}

// ValidateAPIPassword checks the legacy shared password. A match yields a
// synthetic admin user; an unset password yields ErrNotConfigured.
func (m *Manager) ValidateAPIPassword(_ context.Context, password string) (*User, error) {
	if m.apiPassword == "" {
		return nil, ErrNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(m.apiPassword)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return &User{
		ID:          LegacyUserID,
		Username:    "legacy_api_password",
		DisplayName: "Legacy API password user",
		Role:        RoleAdmin,
		IsActive:    true,
		Permissions: AllowAll,
	}, nil
}

// AccessTokenTTL is the lifetime of issued access tokens.
func (m *Manager) AccessTokenTTL() time.Duration {
	ttl := m.accessTTL
	if ttl <= 0 {
		ttl = 30 //nolint:mnd // minutes
	}
	return time.Duration(ttl) * time.Minute
}

func (m *Manager) refreshLifetime() time.Duration {
	ttl := m.refreshTTL
	if ttl <= 0 {
		ttl = 14400 //nolint:mnd // ten days
	}
	return time.Duration(ttl) * time.Minute
}

func (m *Manager) issue(user *User, sessionID, rawRefresh string) (*TokenPair, error) {
	access, err := signAccessToken(user, sessionID, m.secret, m.now(), m.AccessTokenTTL())
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		ExpiresIn:    int(m.AccessTokenTTL().Seconds()),
		RefreshToken: rawRefresh,
		TokenType:    tokenTypeBearer,
	}, nil
}

// sessionSweepInterval is how often SweepLoop drops expired refresh tokens.
const sessionSweepInterval = time.Hour

// SweepLoop deletes expired refresh tokens every interval until ctx is
// done. A zero interval uses sessionSweepInterval.
func (m *Manager) SweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = sessionSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.tokens.DeleteExpired(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				m.logger.Warn("sweeping expired sessions", "error", err)
			case n > 0:
				m.logger.Debug("swept expired sessions", "removed", n)
			}
		}
	}
}
