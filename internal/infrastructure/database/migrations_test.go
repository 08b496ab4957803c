package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

func withMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = files
	MigrationsDir = "."
}

func TestMigrate(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20260101_000000_first.up.sql":  {Data: []byte("CREATE TABLE first (id INTEGER);")},
		"20260102_000000_second.up.sql": {Data: []byte("CREATE TABLE second (id INTEGER);")},
		"README.md":                     {Data: []byte("ignored")},
		"20260103_bad.up.sql":           {Data: []byte("ignored: malformed name")},
	})

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Second run is a no-op.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() rerun error = %v", err)
	}

	n, err := db.AppliedCount(ctx)
	if err != nil {
		t.Fatalf("AppliedCount() error = %v", err)
	}
	if n != 2 {
		t.Errorf("AppliedCount() = %d, want 2", n)
	}

	for _, table := range []string{"first", "second"} {
		var name string
		if err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name); err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

func TestMigrate_FailureRollsBackOnlyFailing(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABLE ;")},
	})

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}
	n, err := db.AppliedCount(ctx)
	if err != nil {
		t.Fatalf("AppliedCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("AppliedCount() = %d, want 1", n)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		in          string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"20260301_120000_kv_store.up.sql", "20260301_120000", "kv_store", true},
		{"20260301_120000_kv_store.down.sql", "", "", false},
		{"20260301_kv.up.sql", "", "", false},
		{"notes.txt", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, n, ok := parseMigrationFilename(tt.in)
			if v != tt.wantVersion || n != tt.wantName || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.in, v, n, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}
