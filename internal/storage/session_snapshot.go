package storage

import (
	"database/sql"
	"encoding/json"
)

// SessionSnapshot is the serialized restore state for one LiveSession:
// its open windows and its context tape, used to rebuild a session across
// process restarts.
type SessionSnapshot struct {
	SessionID string
	Windows   json.RawMessage // []OSAction (window.create actions), implementation-chosen
	Tape      json.RawMessage // []ContextMessage
}

// SaveSessionSnapshot upserts a session's restore state.
func (db *DB) SaveSessionSnapshot(snap SessionSnapshot) error {
	windows := snap.Windows
	if windows == nil {
		windows = json.RawMessage("[]")
	}
	tape := snap.Tape
	if tape == nil {
		tape = json.RawMessage("[]")
	}
	_, err := db.Exec(`
		INSERT INTO session_snapshots (session_id, windows, tape, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (session_id) DO UPDATE SET
			windows = excluded.windows,
			tape = excluded.tape,
			updated_at = excluded.updated_at
	`, snap.SessionID, string(windows), string(tape))
	return err
}

// LoadSessionSnapshot reads back a session's restore state. Returns
// ErrNotFound if the session was never snapshotted.
func (db *DB) LoadSessionSnapshot(sessionID string) (SessionSnapshot, error) {
	var snap SessionSnapshot
	snap.SessionID = sessionID
	var windows, tape string
	err := db.QueryRow(`
		SELECT windows, tape FROM session_snapshots WHERE session_id = ?
	`, sessionID).Scan(&windows, &tape)
	if err == sql.ErrNoRows {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, err
	}
	snap.Windows = json.RawMessage(windows)
	snap.Tape = json.RawMessage(tape)
	return snap, nil
}

// DeleteSessionSnapshot removes a session's restore state. SessionHub does
// not call it: a removed session is persisted, not deleted.
func (db *DB) DeleteSessionSnapshot(sessionID string) error {
	_, err := db.Exec(`DELETE FROM session_snapshots WHERE session_id = ?`, sessionID)
	return err
}
