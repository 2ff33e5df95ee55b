package auth

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/openpeerpower/core/internal/infrastructure/config"
	"github.com/openpeerpower/core/internal/infrastructure/database"
	"github.com/openpeerpower/core/migrations"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

// testDB creates a temporary SQLite database with the embedded schema applied.
// The database file is removed with the test's temp dir.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// seedTestUser inserts a test user with password "test-password" and returns it.
func seedTestUser(t *testing.T, db *sql.DB, username string, role Role) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	repo := NewUserRepository(db)
	user := &User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := repo.Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

// testManager builds a Manager over a fresh database.
func testManager(t *testing.T, apiPassword string) (*Manager, *sql.DB) {
	t.Helper()

	db := testDB(t)
	cfg := config.SecurityConfig{
		JWT:         config.JWTConfig{Secret: testSecret, AccessTokenTTL: 30, RefreshTokenTTL: 60},
		APIPassword: apiPassword,
	}
	m := NewManager(cfg, NewUserRepository(db), NewTokenRepository(db), NewEntityAccessRepository(db), discardLogger())
	return m, db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
