package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenRepository stores refresh tokens. Only hashes are persisted.
type TokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByID(ctx context.Context, id string) (*RefreshToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	Revoke(ctx context.Context, id string) error
	RevokeFamily(ctx context.Context, familyID string) error
	RotateRefreshToken(ctx context.Context, oldID string, next *RefreshToken) error
	DeleteExpired(ctx context.Context) (int64, error)
}

const tokenColumns = "id, user_id, family_id, token_hash, client_name, expires_at, revoked, created_at"

// SQLiteTokenRepository implements TokenRepository on refresh_tokens.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a repository over db.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// HashToken is the stored form of a raw refresh token (hex SHA-256).
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts token. A missing id or family id is generated, so a fresh
// login starts a new family.
func (r *SQLiteTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	if err := insertToken(ctx, r.db, token); err != nil {
		return fmt.Errorf("creating refresh token: %w", err)
	}
	return nil
}

func insertToken(ctx context.Context, db execer, token *RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.FamilyID == "" {
		token.FamilyID = uuid.NewString()
	}
	stamp, now := nowText()
	token.CreatedAt = now

	_, err := db.ExecContext(ctx,
		"INSERT INTO refresh_tokens ("+tokenColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		token.ID, token.UserID, token.FamilyID, token.TokenHash, nullString(token.ClientName),
		token.ExpiresAt.UTC().Format(time.RFC3339), boolToInt(token.Revoked), stamp,
	)
	return err
}

// GetByID returns ErrTokenInvalid for unknown ids.
func (r *SQLiteTokenRepository) GetByID(ctx context.Context, id string) (*RefreshToken, error) {
	return r.one(ctx, "id", id)
}

// GetByTokenHash looks a token up by HashToken of the raw value a client
// presented.
func (r *SQLiteTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	return r.one(ctx, "token_hash", tokenHash)
}

func (r *SQLiteTokenRepository) one(ctx context.Context, column, value string) (*RefreshToken, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+tokenColumns+" FROM refresh_tokens WHERE "+column+" = ?", value) //nolint:gosec // fixed column names
	t, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("getting refresh token by %s: %w", column, err)
	}
	return t, nil
}

// Revoke marks one token revoked, ending that session.
func (r *SQLiteTokenRepository) Revoke(ctx context.Context, id string) error {
	return r.revokeWhere(ctx, "id", id)
}

// RevokeFamily revokes every token descended from the same login. It runs
// when an already rotated token is presented again.
func (r *SQLiteTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	return r.revokeWhere(ctx, "family_id", familyID)
}

func (r *SQLiteTokenRepository) revokeWhere(ctx context.Context, column, value string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE refresh_tokens SET revoked = 1 WHERE "+column+" = ?", value); err != nil { //nolint:gosec // fixed column names
		return fmt.Errorf("revoking refresh tokens by %s: %w", column, err)
	}
	return nil
}

// RotateRefreshToken revokes oldID and inserts next in one transaction.
// It fails with ErrTokenRevoked if oldID was already revoked, so two
// concurrent refreshes with the same token cannot both succeed.
func (r *SQLiteTokenRepository) RotateRefreshToken(ctx context.Context, oldID string, next *RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, "UPDATE refresh_tokens SET revoked = 1 WHERE id = ? AND revoked = 0", oldID)
	if err != nil {
		return fmt.Errorf("revoking old token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrTokenRevoked
	}
	if err := insertToken(ctx, tx, next); err != nil {
		return fmt.Errorf("creating new token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// DeleteExpired removes expired tokens and returns how many went.
func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	stamp, _ := nowText()
	res, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at <= ?", stamp)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

func scanToken(s scanner) (*RefreshToken, error) {
	var (
		t                    RefreshToken
		clientName           sql.NullString
		revoked              int
		expiresAt, createdAt string
	)
	err := s.Scan(&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash, &clientName, &expiresAt, &revoked, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	t.ClientName = clientName.String
	t.Revoked = revoked != 0
	t.ExpiresAt = parseText(expiresAt)
	t.CreatedAt = parseText(createdAt)
	return &t, nil
}
