package auth

import (
	"context"
	"errors"
	"testing"
)

func TestEntityAccessRepository_SetAndGet(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "member", RoleUser)
	admin := seedTestUser(t, db, "admin", RoleAdmin)
	repo := NewEntityAccessRepository(db)
	ctx := context.Background()

	grants := []EntityAccessGrant{
		{Target: "light.kitchen", CanWrite: true},
		{Target: "Sensor.*"},
	}
	if err := repo.SetEntityAccess(ctx, user.ID, grants, admin.ID); err != nil {
		t.Fatalf("SetEntityAccess() error = %v", err)
	}

	access, err := repo.GetEntityAccess(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetEntityAccess() error = %v", err)
	}
	if len(access) != 2 {
		t.Fatalf("len(access) = %d, want 2", len(access))
	}
	if access[0].Target != "light.kitchen" || !access[0].CanWrite {
		t.Errorf("access[0] = %+v", access[0])
	}
	if access[1].Target != "sensor.*" || access[1].CanWrite {
		t.Errorf("access[1] = %+v, want lower-cased read-only domain grant", access[1])
	}
	if access[0].CreatedBy != admin.ID {
		t.Errorf("CreatedBy = %q, want %q", access[0].CreatedBy, admin.ID)
	}
}

func TestEntityAccessRepository_SetReplaces(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "member", RoleUser)
	repo := NewEntityAccessRepository(db)
	ctx := context.Background()

	repo.SetEntityAccess(ctx, user.ID, []EntityAccessGrant{{Target: "light.a"}, {Target: "light.b"}}, "") //nolint:errcheck // checked below
	if err := repo.SetEntityAccess(ctx, user.ID, []EntityAccessGrant{{Target: "switch.c"}}, ""); err != nil {
		t.Fatalf("SetEntityAccess() error = %v", err)
	}

	access, _ := repo.GetEntityAccess(ctx, user.ID)
	if len(access) != 1 || access[0].Target != "switch.c" {
		t.Errorf("access = %+v, want only switch.c", access)
	}
}

func TestEntityAccessRepository_InvalidTarget(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "member", RoleUser)
	repo := NewEntityAccessRepository(db)

	err := repo.SetEntityAccess(context.Background(), user.ID, []EntityAccessGrant{{Target: "nonsense"}}, "")
	if !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("SetEntityAccess() error = %v, want ErrInvalidTarget", err)
	}
}

func TestEntityAccessRepository_ClearAndResolve(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "member", RoleUser)
	admin := seedTestUser(t, db, "boss", RoleOwner)
	repo := NewEntityAccessRepository(db)
	ctx := context.Background()

	repo.SetEntityAccess(ctx, user.ID, []EntityAccessGrant{{Target: "light.*"}}, "") //nolint:errcheck // valid grant

	perms, err := repo.ResolvePolicy(ctx, user)
	if err != nil {
		t.Fatalf("ResolvePolicy() error = %v", err)
	}
	if !perms.CheckEntity("light.hall", PermRead) {
		t.Error("resolved policy should allow light.hall")
	}

	if err := repo.ClearEntityAccess(ctx, user.ID); err != nil {
		t.Fatalf("ClearEntityAccess() error = %v", err)
	}
	perms, _ = repo.ResolvePolicy(ctx, user)
	if perms.CheckEntity("light.hall", PermRead) {
		t.Error("cleared policy should deny everything")
	}

	adminPerms, _ := repo.ResolvePolicy(ctx, admin)
	if !adminPerms.AccessAllEntities(PermWrite) {
		t.Error("owner should resolve to AllowAll")
	}
}
