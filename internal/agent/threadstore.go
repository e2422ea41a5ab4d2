package agent

import (
	"time"

	"canopy/internal/storage"
	"canopy/pkg/logger"
)

// DBThreadStore persists canonical-agent -> provider-thread-id mappings
// through storage.DB, so a restart can resume the same provider thread a
// canonical agent was last talking on.
type DBThreadStore struct {
	sessionID string
	db        *storage.DB
}

// NewDBThreadStore creates a ThreadStore backed by db for one session.
func NewDBThreadStore(sessionID string, db *storage.DB) *DBThreadStore {
	return &DBThreadStore{sessionID: sessionID, db: db}
}

// SaveThread upserts the thread id for canonicalAgent.
func (s *DBThreadStore) SaveThread(canonicalAgent, threadID string) {
	if err := s.db.PutAgentThread(storage.AgentThreadRow{
		SessionID:      s.sessionID,
		CanonicalAgent: canonicalAgent,
		ThreadID:       threadID,
		UpdatedAt:      time.Now(),
	}); err != nil {
		logger.Warn().Err(err).Str("session_id", s.sessionID).Str("canonical_agent", canonicalAgent).
			Msg("failed to persist agent thread id")
	}
}

// LoadThread returns the saved thread id for canonicalAgent, if any.
func (s *DBThreadStore) LoadThread(canonicalAgent string) (string, bool) {
	threadID, err := s.db.GetAgentThread(s.sessionID, canonicalAgent)
	if err != nil {
		return "", false
	}
	return threadID, true
}

// DeleteThread removes canonicalAgent's saved thread id.
func (s *DBThreadStore) DeleteThread(canonicalAgent string) {
	if err := s.db.DeleteAgentThread(s.sessionID, canonicalAgent); err != nil {
		logger.Warn().Err(err).Str("session_id", s.sessionID).Str("canonical_agent", canonicalAgent).
			Msg("failed to delete agent thread id")
	}
}
