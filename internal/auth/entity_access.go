package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// EntityAccessRepository defines the interface for entity grant persistence.
type EntityAccessRepository interface {
	SetEntityAccess(ctx context.Context, userID string, grants []EntityAccessGrant, createdBy string) error
	GetEntityAccess(ctx context.Context, userID string) ([]EntityAccess, error)
	ClearEntityAccess(ctx context.Context, userID string) error
	ResolvePolicy(ctx context.Context, user *User) (Permissions, error)
}

// EntityAccessGrant is the input for setting entity access.
type EntityAccessGrant struct {
	Target   string `json:"target"`
	CanWrite bool   `json:"can_write"`
}

// SQLiteEntityAccessRepository implements EntityAccessRepository using SQLite.
type SQLiteEntityAccessRepository struct {
	db *sql.DB
}

// NewEntityAccessRepository creates a new SQLite-backed entity access repository.
func NewEntityAccessRepository(db *sql.DB) *SQLiteEntityAccessRepository {
	return &SQLiteEntityAccessRepository{db: db}
}

// SetEntityAccess replaces all grants for a user.
// Pass an empty slice to revoke everything (the user can then read nothing).
func (r *SQLiteEntityAccessRepository) SetEntityAccess(ctx context.Context, userID string, grants []EntityAccessGrant, createdBy string) error {
	for _, g := range grants {
		if !ValidTarget(strings.ToLower(g.Target)) {
			return fmt.Errorf("%w: %q", ErrInvalidTarget, g.Target)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM entity_access WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing entity access: %w", err)
	}

	now, _ := nowText()
	for _, g := range grants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_access (user_id, target, can_write, created_by, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, target) DO UPDATE SET can_write = MAX(can_write, excluded.can_write)`,
			userID, strings.ToLower(g.Target), boolToInt(g.CanWrite), nullString(createdBy), now); err != nil {
			return fmt.Errorf("granting %s: %w", g.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entity access: %w", err)
	}
	return nil
}

// GetEntityAccess returns all grants for a user ordered by target.
func (r *SQLiteEntityAccessRepository) GetEntityAccess(ctx context.Context, userID string) ([]EntityAccess, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, target, can_write, created_by, created_at
		 FROM entity_access WHERE user_id = ? ORDER BY target`, userID)
	if err != nil {
		return nil, fmt.Errorf("getting entity access: %w", err)
	}
	defer rows.Close()

	var access []EntityAccess
	for rows.Next() {
		var ea EntityAccess
		var canWrite int
		var createdBy sql.NullString
		var createdAt string

		if err := rows.Scan(&ea.UserID, &ea.Target, &canWrite, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning entity access: %w", err)
		}

		ea.CanWrite = canWrite != 0
		if createdBy.Valid {
			ea.CreatedBy = createdBy.String
		}
		ea.CreatedAt = parseText(createdAt)

		access = append(access, ea)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity access: %w", err)
	}

	if access == nil {
		access = []EntityAccess{}
	}
	return access, nil
}

// ClearEntityAccess removes all grants for a user.
func (r *SQLiteEntityAccessRepository) ClearEntityAccess(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM entity_access WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing entity access: %w", err)
	}
	return nil
}

// ResolvePolicy builds the Permissions for user. Admins skip the query.
func (r *SQLiteEntityAccessRepository) ResolvePolicy(ctx context.Context, user *User) (Permissions, error) {
	if user.IsAdmin() {
		return AllowAll, nil
	}
	grants, err := r.GetEntityAccess(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return NewEntityPolicy(grants), nil
}
