package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("not found")

// ReloadCacheRow is the persisted form of a reload cache entry.
type ReloadCacheRow struct {
	SessionID   string
	EventID     string
	Fingerprint string
	Actions     json.RawMessage
	ForWindowID string
	CreatedAt   time.Time
	FailCount   int
	Invalidated bool
}

// PutReloadCacheEntry inserts or replaces a reload cache row.
func (db *DB) PutReloadCacheEntry(row ReloadCacheRow) error {
	_, err := db.Exec(`
		INSERT INTO reload_cache (session_id, event_id, fingerprint, actions, for_window_id, created_at, fail_count, invalidated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, event_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			actions = excluded.actions,
			for_window_id = excluded.for_window_id,
			fail_count = excluded.fail_count,
			invalidated = excluded.invalidated
	`, row.SessionID, row.EventID, row.Fingerprint, string(row.Actions), row.ForWindowID, row.CreatedAt, row.FailCount, boolToInt(row.Invalidated))
	return err
}

// FindReloadCacheByFingerprint returns entries for a session matching a
// fingerprint, ordered not-invalidated first, then lower fail_count, then
// newest — mirroring findMatches' ordering contract.
func (db *DB) FindReloadCacheByFingerprint(sessionID, fingerprint string, limit int) ([]ReloadCacheRow, error) {
	rows, err := db.Query(`
		SELECT session_id, event_id, fingerprint, actions, for_window_id, created_at, fail_count, invalidated
		FROM reload_cache
		WHERE session_id = ? AND fingerprint = ?
		ORDER BY invalidated ASC, fail_count ASC, created_at DESC
		LIMIT ?
	`, sessionID, fingerprint, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReloadCacheRow
	for rows.Next() {
		var r ReloadCacheRow
		var actions string
		var invalidated int
		if err := rows.Scan(&r.SessionID, &r.EventID, &r.Fingerprint, &actions, &r.ForWindowID, &r.CreatedAt, &r.FailCount, &invalidated); err != nil {
			return nil, err
		}
		r.Actions = json.RawMessage(actions)
		r.Invalidated = invalidated != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// InvalidateReloadCacheForWindow marks every entry referencing windowID as
// invalidated without evicting it.
func (db *DB) InvalidateReloadCacheForWindow(sessionID, windowID string) error {
	_, err := db.Exec(`
		UPDATE reload_cache SET invalidated = 1
		WHERE session_id = ? AND for_window_id = ?
	`, sessionID, windowID)
	return err
}

// MarkReloadCacheFailed increments fail_count and returns the new value; the
// caller decides whether to also invalidate past a threshold.
func (db *DB) MarkReloadCacheFailed(sessionID, eventID string) (int, error) {
	res, err := db.Exec(`
		UPDATE reload_cache SET fail_count = fail_count + 1
		WHERE session_id = ? AND event_id = ?
	`, sessionID, eventID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrNotFound
	}
	var failCount int
	err = db.QueryRow(`SELECT fail_count FROM reload_cache WHERE session_id = ? AND event_id = ?`, sessionID, eventID).Scan(&failCount)
	return failCount, err
}

// SetReloadCacheInvalidated force-sets the invalidated flag. reloadcache
// does not call it; MarkFailed persists the flag through
// PutReloadCacheEntry.
func (db *DB) SetReloadCacheInvalidated(sessionID, eventID string, invalidated bool) error {
	_, err := db.Exec(`
		UPDATE reload_cache SET invalidated = ? WHERE session_id = ? AND event_id = ?
	`, boolToInt(invalidated), sessionID, eventID)
	return err
}

// LoadReloadCache returns every row for a session, used to repopulate the
// in-memory cache on startup.
func (db *DB) LoadReloadCache(sessionID string) ([]ReloadCacheRow, error) {
	rows, err := db.Query(`
		SELECT session_id, event_id, fingerprint, actions, for_window_id, created_at, fail_count, invalidated
		FROM reload_cache WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReloadCacheRow
	for rows.Next() {
		var r ReloadCacheRow
		var actions string
		var invalidated int
		if err := rows.Scan(&r.SessionID, &r.EventID, &r.Fingerprint, &actions, &r.ForWindowID, &r.CreatedAt, &r.FailCount, &invalidated); err != nil {
			return nil, err
		}
		r.Actions = json.RawMessage(actions)
		r.Invalidated = invalidated != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneInvalidatedReloadCache deletes invalidated rows older than before,
// across every session, returning the number of rows removed. Used by the
// periodic reload-cache sweep to keep the table from growing unbounded with
// entries nothing will ever match again.
func (db *DB) PruneInvalidatedReloadCache(before time.Time) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM reload_cache WHERE invalidated = 1 AND created_at < ?
	`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountReloadCacheEntries returns the total number of reload cache rows
// across every session, for the sweep's periodic stats snapshot.
func (db *DB) CountReloadCacheEntries() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM reload_cache`).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
