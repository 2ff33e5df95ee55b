package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/openpeerpower/core/migrations"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY);")},
		"20260101_000000_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
		"20260102_000000_gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id TEXT PRIMARY KEY);")},
		"README.md":                        {Data: []byte("not a migration")},
		"bogus.up.sql":                     {Data: []byte("SELECT 1;")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestLoadMigrations(t *testing.T) {
	migs, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migs) != 2 {
		t.Fatalf("len = %d, want 2", len(migs))
	}
	if migs[0].Version != "20260101_000000" || migs[0].Name != "widgets" {
		t.Errorf("first = %s/%s, want 20260101_000000/widgets", migs[0].Version, migs[0].Name)
	}
	if migs[0].DownSQL == "" {
		t.Error("first migration should carry its down SQL")
	}
	if migs[1].DownSQL != "" {
		t.Error("second migration has no down file")
	}

	if migs, err := LoadMigrations(nil); err != nil || migs != nil {
		t.Errorf("LoadMigrations(nil) = %v, %v; want nil, nil", migs, err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		wantVersion string
		wantDesc    string
		wantOK      bool
	}{
		{"20260118_120000_initial_schema.up.sql", "20260118_120000", "initial_schema", true},
		{"20260118_120000.up.sql", "20260118_120000", "", true},
		{"2026_1200_short.up.sql", "", "", false},
		{"initial.up.sql", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, desc, ok := parseMigrationFilename(tt.name)
			if version != tt.wantVersion || desc != tt.wantDesc || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v; want %q, %q, %v",
					tt.name, version, desc, ok, tt.wantVersion, tt.wantDesc, tt.wantOK)
			}
		})
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "widgets") || !tableExists(t, db, "gadgets") {
		t.Fatal("expected both tables to exist")
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrations())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2 and 0", len(applied), len(pending))
	}

	// Idempotent.
	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureStopsAtBrokenMigration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := testMigrations()
	fsys["20260103_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE oops (")}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() expected error for broken SQL")
	}
	if !tableExists(t, db, "gadgets") {
		t.Error("migrations before the broken one should stay committed")
	}

	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("pending = %+v, want only broken", pending)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	only := fstest.MapFS{
		"20260101_000000_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY);")},
		"20260101_000000_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
	}
	if err := db.Migrate(ctx, only); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, only); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "widgets") {
		t.Error("widgets should have been dropped")
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, only); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrateDown_NoDownSQL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	err := db.MigrateDown(ctx, testMigrations())
	if !errors.Is(err, ErrNoDownMigration) {
		t.Errorf("MigrateDown() error = %v, want ErrNoDownMigration", err)
	}
}

func TestMigrate_EmbeddedSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate(embedded) error = %v", err)
	}
	for _, table := range []string{"users", "refresh_tokens", "entity_access"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s missing after embedded migrations", table)
		}
	}
}
