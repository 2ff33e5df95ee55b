package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestToken(userID, raw string, ttl time.Duration) *RefreshToken {
	return &RefreshToken{
		UserID:    userID,
		TokenHash: HashToken(raw),
		ExpiresAt: time.Now().Add(ttl),
	}
}

func TestTokenRepository_CreateAndLookup(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "tokenuser", RoleUser)
	repo := NewTokenRepository(db)
	ctx := t.Context()

	token := newTestToken(user.ID, "raw-refresh-token", 24*time.Hour)
	token.ClientName = "Frontend"
	if err := repo.Create(ctx, token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if token.ID == "" || token.FamilyID == "" {
		t.Fatalf("Create() ids = %q/%q, want both generated", token.ID, token.FamilyID)
	}

	byID, err := repo.GetByID(ctx, token.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	byHash, err := repo.GetByTokenHash(ctx, HashToken("raw-refresh-token"))
	if err != nil {
		t.Fatalf("GetByTokenHash() error = %v", err)
	}
	for _, got := range []*RefreshToken{byID, byHash} {
		if got.ID != token.ID || got.UserID != user.ID || got.FamilyID != token.FamilyID {
			t.Errorf("token = %+v, want %+v", got, token)
		}
		if got.ClientName != "Frontend" {
			t.Errorf("ClientName = %q, want Frontend", got.ClientName)
		}
		if got.Revoked {
			t.Error("Revoked = true, want false")
		}
		if d := got.ExpiresAt.Sub(token.ExpiresAt); d > time.Second || d < -time.Second {
			t.Errorf("ExpiresAt = %v, want about %v", got.ExpiresAt, token.ExpiresAt)
		}
	}
}

func TestTokenRepository_Revoke(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "revokeuser", RoleUser)
	repo := NewTokenRepository(db)
	ctx := t.Context()

	first := newTestToken(user.ID, "first", time.Hour)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	sibling := newTestToken(user.ID, "sibling", time.Hour)
	sibling.FamilyID = first.FamilyID
	other := newTestToken(user.ID, "other", time.Hour)
	for _, tok := range []*RefreshToken{sibling, other} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	revoked := func(id string) bool {
		t.Helper()
		got, err := repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		return got.Revoked
	}

	if err := repo.Revoke(ctx, first.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if !revoked(first.ID) || revoked(sibling.ID) {
		t.Errorf("after Revoke: first=%v sibling=%v, want true/false", revoked(first.ID), revoked(sibling.ID))
	}

	if err := repo.RevokeFamily(ctx, first.FamilyID); err != nil {
		t.Fatalf("RevokeFamily() error = %v", err)
	}
	if !revoked(sibling.ID) {
		t.Error("sibling not revoked by RevokeFamily")
	}
	if revoked(other.ID) {
		t.Error("token from another family revoked by RevokeFamily")
	}
}

func TestTokenRepository_RotateRefreshToken(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "rotateuser", RoleUser)
	repo := NewTokenRepository(db)
	ctx := t.Context()

	old := newTestToken(user.ID, "old", time.Hour)
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	next := newTestToken(user.ID, "new", time.Hour)
	next.FamilyID = old.FamilyID
	if err := repo.RotateRefreshToken(ctx, old.ID, next); err != nil {
		t.Fatalf("RotateRefreshToken() error = %v", err)
	}

	got, err := repo.GetByID(ctx, old.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.Revoked {
		t.Error("old token not revoked after rotation")
	}
	if _, err := repo.GetByTokenHash(ctx, HashToken("new")); err != nil {
		t.Errorf("GetByTokenHash(new) error = %v", err)
	}

	again := newTestToken(user.ID, "again", time.Hour)
	if err := repo.RotateRefreshToken(ctx, old.ID, again); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("second rotation error = %v, want ErrTokenRevoked", err)
	}
	if _, err := repo.GetByTokenHash(ctx, HashToken("again")); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("failed rotation left a token behind: %v", err)
	}
}

func TestTokenRepository_DeleteExpired(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "cleanup", RoleUser)
	repo := NewTokenRepository(db)
	ctx := t.Context()

	expired := newTestToken(user.ID, "expired", -time.Hour)
	active := newTestToken(user.ID, "active", time.Hour)
	for _, tok := range []*RefreshToken{expired, active} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	n, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}
	if _, err := repo.GetByID(ctx, active.ID); err != nil {
		t.Errorf("GetByID(active) error = %v", err)
	}
	if _, err := repo.GetByID(ctx, expired.ID); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("GetByID(expired) error = %v, want ErrTokenInvalid", err)
	}
}

func TestHashToken(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"raw-token", "raw-token", true},
		{"raw-token", "different-token", false},
		{"", "", true},
	}
	for _, tt := range tests {
		ha, hb := HashToken(tt.a), HashToken(tt.b)
		if (ha == hb) != tt.same {
			t.Errorf("HashToken(%q) == HashToken(%q) is %v, want %v", tt.a, tt.b, ha == hb, tt.same)
		}
		if len(ha) != 64 {
			t.Errorf("len(HashToken(%q)) = %d, want 64", tt.a, len(ha))
		}
	}
}
