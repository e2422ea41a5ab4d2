package storage

import (
	"database/sql"
	"time"
)

// AgentThreadRow is the persisted provider thread id for one canonical agent
// name within a session.
type AgentThreadRow struct {
	SessionID      string
	CanonicalAgent string
	ThreadID       string
	UpdatedAt      time.Time
}

// PutAgentThread upserts the thread id for a canonical agent.
func (db *DB) PutAgentThread(row AgentThreadRow) error {
	_, err := db.Exec(`
		INSERT INTO agent_threads (session_id, canonical_agent, thread_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, canonical_agent) DO UPDATE SET
			thread_id = excluded.thread_id,
			updated_at = excluded.updated_at
	`, row.SessionID, row.CanonicalAgent, row.ThreadID, row.UpdatedAt)
	return err
}

// GetAgentThread returns the thread id saved for a canonical agent, or
// ErrNotFound.
func (db *DB) GetAgentThread(sessionID, canonicalAgent string) (string, error) {
	var threadID string
	err := db.QueryRow(`
		SELECT thread_id FROM agent_threads WHERE session_id = ? AND canonical_agent = ?
	`, sessionID, canonicalAgent).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return threadID, err
}

// DeleteAgentThread removes a canonical agent's saved thread id.
func (db *DB) DeleteAgentThread(sessionID, canonicalAgent string) error {
	_, err := db.Exec(`DELETE FROM agent_threads WHERE session_id = ? AND canonical_agent = ?`, sessionID, canonicalAgent)
	return err
}
