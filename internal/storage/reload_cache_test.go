package storage

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReloadCacheRoundTrip(t *testing.T) {
	db := openTestDB(t)

	row := ReloadCacheRow{
		SessionID:   "s1",
		EventID:     "e1",
		Fingerprint: "fp1",
		Actions:     json.RawMessage(`[{"kind":"window.create"}]`),
		ForWindowID: "w1",
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.PutReloadCacheEntry(row); err != nil {
		t.Fatalf("PutReloadCacheEntry: %v", err)
	}

	matches, err := db.FindReloadCacheByFingerprint("s1", "fp1", 3)
	if err != nil {
		t.Fatalf("FindReloadCacheByFingerprint: %v", err)
	}
	if len(matches) != 1 || matches[0].EventID != "e1" {
		t.Fatalf("matches = %+v, want one entry e1", matches)
	}
}

func TestReloadCacheOrdering(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC()

	rows := []ReloadCacheRow{
		{SessionID: "s1", EventID: "old", Fingerprint: "fp", Actions: json.RawMessage(`[]`), CreatedAt: base.Add(-time.Hour), FailCount: 0},
		{SessionID: "s1", EventID: "invalid", Fingerprint: "fp", Actions: json.RawMessage(`[]`), CreatedAt: base, FailCount: 0, Invalidated: true},
		{SessionID: "s1", EventID: "new", Fingerprint: "fp", Actions: json.RawMessage(`[]`), CreatedAt: base.Add(time.Hour), FailCount: 1},
	}
	for _, r := range rows {
		if err := db.PutReloadCacheEntry(r); err != nil {
			t.Fatalf("PutReloadCacheEntry(%s): %v", r.EventID, err)
		}
	}

	matches, err := db.FindReloadCacheByFingerprint("s1", "fp", 10)
	if err != nil {
		t.Fatalf("FindReloadCacheByFingerprint: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("len(matches) = %d, want 3", len(matches))
	}
	// not-invalidated first, then the invalidated one last.
	if matches[len(matches)-1].EventID != "invalid" {
		t.Errorf("last match = %s, want invalid sorted last", matches[len(matches)-1].EventID)
	}
}

func TestInvalidateReloadCacheForWindow(t *testing.T) {
	db := openTestDB(t)
	row := ReloadCacheRow{SessionID: "s1", EventID: "e1", Fingerprint: "fp", Actions: json.RawMessage(`[]`), ForWindowID: "w1", CreatedAt: time.Now().UTC()}
	if err := db.PutReloadCacheEntry(row); err != nil {
		t.Fatalf("PutReloadCacheEntry: %v", err)
	}
	if err := db.InvalidateReloadCacheForWindow("s1", "w1"); err != nil {
		t.Fatalf("InvalidateReloadCacheForWindow: %v", err)
	}
	rows, err := db.LoadReloadCache("s1")
	if err != nil {
		t.Fatalf("LoadReloadCache: %v", err)
	}
	if len(rows) != 1 || !rows[0].Invalidated {
		t.Fatalf("rows = %+v, want invalidated entry", rows)
	}
}

func TestMarkReloadCacheFailed(t *testing.T) {
	db := openTestDB(t)
	row := ReloadCacheRow{SessionID: "s1", EventID: "e1", Fingerprint: "fp", Actions: json.RawMessage(`[]`), CreatedAt: time.Now().UTC()}
	if err := db.PutReloadCacheEntry(row); err != nil {
		t.Fatalf("PutReloadCacheEntry: %v", err)
	}

	count, err := db.MarkReloadCacheFailed("s1", "e1")
	if err != nil {
		t.Fatalf("MarkReloadCacheFailed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	if _, err := db.MarkReloadCacheFailed("s1", "missing"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPruneInvalidatedReloadCache(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()

	rows := []ReloadCacheRow{
		{SessionID: "s1", EventID: "old-invalid", Fingerprint: "fp", Actions: json.RawMessage(`[]`), CreatedAt: now.Add(-48 * time.Hour), Invalidated: true},
		{SessionID: "s1", EventID: "recent-invalid", Fingerprint: "fp", Actions: json.RawMessage(`[]`), CreatedAt: now, Invalidated: true},
		{SessionID: "s1", EventID: "old-valid", Fingerprint: "fp", Actions: json.RawMessage(`[]`), CreatedAt: now.Add(-48 * time.Hour), Invalidated: false},
	}
	for _, r := range rows {
		if err := db.PutReloadCacheEntry(r); err != nil {
			t.Fatalf("PutReloadCacheEntry(%s): %v", r.EventID, err)
		}
	}

	removed, err := db.PruneInvalidatedReloadCache(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneInvalidatedReloadCache: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	remaining, err := db.LoadReloadCache("s1")
	if err != nil {
		t.Fatalf("LoadReloadCache: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("len(remaining) = %d, want 2", len(remaining))
	}

	count, err := db.CountReloadCacheEntries()
	if err != nil {
		t.Fatalf("CountReloadCacheEntries: %v", err)
	}
	if count != 2 {
		t.Errorf("CountReloadCacheEntries() = %d, want 2", count)
	}
}
