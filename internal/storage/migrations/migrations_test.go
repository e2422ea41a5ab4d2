package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestRun(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := Run(db); err != nil {
		t.Fatalf("first migration run: %v", err)
	}

	version, err := Version(db)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	const expectedVersion = 2
	if version != expectedVersion {
		t.Errorf("version = %d, want %d", version, expectedVersion)
	}

	tables := []string{"reload_cache", "session_snapshots", "_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestRun_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := Run(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Run(db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	version, err := Version(db)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	const expectedVersion = 2
	if version != expectedVersion {
		t.Errorf("version = %d, want %d", version, expectedVersion)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != expectedVersion {
		t.Errorf("migration count = %d, want %d", count, expectedVersion)
	}
}

func TestPending(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ensureMigrationsTable(db); err != nil {
		t.Fatalf("ensure migrations table: %v", err)
	}

	pending, err := Pending(db)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	const expectedPending = 2
	if len(pending) != expectedPending {
		t.Errorf("pending count = %d, want %d", len(pending), expectedPending)
	}

	if err := Run(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pending, err = Pending(db)
	if err != nil {
		t.Fatalf("get pending after run: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending count after run = %d, want 0", len(pending))
	}
}

func TestVersion_EmptyDB(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ensureMigrationsTable(db); err != nil {
		t.Fatalf("ensure migrations table: %v", err)
	}

	version, err := Version(db)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}
