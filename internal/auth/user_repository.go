package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// UserRepository stores the accounts that may open API sessions.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Count(ctx context.Context) (int, error)
}

const userColumns = "id, username, display_name, password_hash, role, is_active, created_by, created_at, updated_at"

// SQLiteUserRepository implements UserRepository on the users table.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a repository over db.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts user, filling in the id (32 hex characters), the default
// role and the timestamps. A taken username fails with ErrUsernameExists.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if !IsValidUsername(user.Username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, user.Username)
	}
	if user.Role == "" {
		user.Role = RoleUser
	}
	if user.ID == "" {
		user.ID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	stamp, now := nowText()
	user.CreatedAt, user.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.Username, user.DisplayName, user.PasswordHash, string(user.Role),
		boolToInt(user.IsActive), nullString(user.CreatedBy), stamp, stamp,
	)
	switch {
	case isUniqueViolation(err):
		return ErrUsernameExists
	case err != nil:
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID returns ErrUserNotFound for unknown ids.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.one(ctx, "id", id)
}

// GetByUsername returns ErrUserNotFound for unknown names.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.one(ctx, "username", username)
}

// Count returns the number of accounts; zero means first boot.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// one loads the user whose column equals value. column is never user input.
func (r *SQLiteUserRepository) one(ctx context.Context, column, value string) (*User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+" = ?", value) //nolint:gosec // fixed column names
	return scanUser(row)
}

func scanUser(s scanner) (*User, error) {
	var (
		u                    User
		role                 string
		active               int
		createdBy            sql.NullString
		createdAt, updatedAt string
	)
	err := s.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &role,
		&active, &createdBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	u.IsActive = active != 0
	u.CreatedBy = createdBy.String
	u.CreatedAt = parseText(createdAt)
	u.UpdatedAt = parseText(updatedAt)
	return &u, nil
}
