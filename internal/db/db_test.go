package db

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func openSQLite(t *testing.T) *DB {
	t.Helper()
	d, err := New(DriverSQLite, filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	if got := pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Fatalf("postgres rebind=%q", got)
	}
	lite := &DB{driver: DriverSQLite}
	if got := lite.Rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind=%q", got)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New("mysql", "dsn"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := New(DriverSQLite, ""); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}

func TestReadMigrationsOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"010_second.sql":     {Data: []byte("SELECT 2;")},
		"002_first_step.sql": {Data: []byte("SELECT 1;")},
		"notes.txt":          {Data: []byte("ignored")},
		"bad.sql":            {Data: []byte("ignored")},
	}
	migrations, err := readMigrations(fsys)
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("migrations=%+v", migrations)
	}
	if migrations[0].Number != 2 || migrations[0].Name != "first_step" {
		t.Fatalf("first=%+v", migrations[0])
	}
	if migrations[1].Number != 10 || migrations[1].Name != "second" {
		t.Fatalf("second=%+v", migrations[1])
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	d := openSQLite(t)
	ctx := context.Background()
	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var count int
	if err := d.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("applied migrations=%d, want 1", count)
	}
	if _, err := d.Exec("SELECT id, session_id, outcome FROM generations"); err != nil {
		t.Fatalf("generations table missing: %v", err)
	}
	if err := d.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestRunMigrationsAppliesOnlyNewFiles(t *testing.T) {
	d := openSQLite(t)
	ctx := context.Background()
	first := fstest.MapFS{
		"001_notes.sql": {Data: []byte("CREATE TABLE notes (id INTEGER PRIMARY KEY);")},
	}
	if err := d.RunMigrations(ctx, first); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	// Re-running 001 would fail because the table already exists.
	second := fstest.MapFS{
		"001_notes.sql":     first["001_notes.sql"],
		"002_notes_tag.sql": {Data: []byte("ALTER TABLE notes ADD COLUMN tag TEXT;")},
	}
	if err := d.RunMigrations(ctx, second); err != nil {
		t.Fatalf("RunMigrations with a new file: %v", err)
	}
	if _, err := d.Exec("INSERT INTO notes (id, tag) VALUES (1, 'x')"); err != nil {
		t.Fatalf("002 not applied: %v", err)
	}

	broken := fstest.MapFS{"003_broken.sql": {Data: []byte("NOT SQL AT ALL")}}
	if err := d.RunMigrations(ctx, broken); err == nil {
		t.Fatal("expected error for invalid migration")
	}
	var count int
	if err := d.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = 3").Scan(&count); err != nil || count != 0 {
		t.Fatalf("failed migration recorded: count=%d err=%v", count, err)
	}
}

func TestHealthCheckAfterClose(t *testing.T) {
	d, err := New(DriverSQLite, filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Close()
	if err := d.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected HealthCheck to fail on a closed database")
	}
}
