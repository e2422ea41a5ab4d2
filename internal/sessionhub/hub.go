// Package sessionhub is the process-wide registry of LiveSessions: the
// transport.Router every connection is ultimately served by.
package sessionhub

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"canopy/internal/broadcast"
	"canopy/internal/limiter"
	"canopy/internal/livesession"
	"canopy/internal/provider"
	"canopy/internal/sequencer"
	"canopy/internal/storage"
	"canopy/internal/transport"
	"canopy/pkg/logger"
)

// DefaultSessionID names the session reused whenever a connection arrives
// without a requested session id.
const DefaultSessionID = "default"

// Capacity bounds how many non-default sessions the hub holds at once; the
// least-recently-used is persisted and torn down to make room for a new
// one. The default session is never evicted.
const Capacity = 64

// sequencerCapacity is the per-session outbound event ring size.
const sequencerCapacity = 256

// Hub owns every LiveSession in the process and implements transport.Router,
// transport.SessionResolver, transport.ConnectHandler, and
// transport.DisconnectHandler so a single transport.Server can be handed a
// Hub and route connections to the right session without knowing sessions
// exist.
type Hub struct {
	db          *storage.DB
	providers   *provider.Pool
	providerHub *provider.Hub
	ephemeral   *limiter.Semaphore
	center      *broadcast.Center
	model       string

	mu    sync.Mutex
	def   *livesession.LiveSession
	cache *lru.Cache[string, *livesession.LiveSession]
	conns map[string]string // connID -> sessionID
}

// New builds an empty Hub. db may be nil for a transient, unpersisted
// deployment. defaultModel seeds every new session's initial provider.
func New(db *storage.DB, providers *provider.Pool, ephemeral *limiter.Semaphore, center *broadcast.Center, defaultModel string) *Hub {
	h := &Hub{
		db:          db,
		providers:   providers,
		providerHub: provider.NewHub(),
		ephemeral:   ephemeral,
		center:      center,
		model:       defaultModel,
		conns:       make(map[string]string),
	}
	cache, _ := lru.NewWithEvict[string, *livesession.LiveSession](Capacity, func(id string, ls *livesession.LiveSession) {
		ls.Persist()
		ls.Cleanup()
		logger.Info().Str("session_id", id).Msg("session evicted from hub")
	})
	h.cache = cache
	return h
}

// getOrCreate returns requestedID's session, creating one if none exists.
// An empty or "default" requestedID always resolves to the hub's single
// long-lived default session.
func (h *Hub) getOrCreate(requestedID string) (*livesession.LiveSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if requestedID == "" || requestedID == DefaultSessionID {
		if h.def == nil {
			ls, err := h.newSessionLocked(DefaultSessionID)
			if err != nil {
				return nil, err
			}
			h.def = ls
		}
		return h.def, nil
	}

	if ls, ok := h.cache.Get(requestedID); ok {
		return ls, nil
	}
	ls, err := h.newSessionLocked(requestedID)
	if err != nil {
		return nil, err
	}
	h.cache.Add(requestedID, ls)
	return ls, nil
}

func (h *Hub) newSessionLocked(id string) (*livesession.LiveSession, error) {
	seq := sequencer.New(sequencerCapacity)
	return livesession.New(id, h.db, h.providers, h.ephemeral, h.providerHub, h.center, seq, h.model)
}

// get looks up an already-resolved session without creating one.
func (h *Hub) get(id string) (*livesession.LiveSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id == DefaultSessionID {
		return h.def, h.def != nil
	}
	return h.cache.Get(id)
}

// remove evicts a non-default session immediately; the default session is
// kept alive indefinitely regardless of connection count.
func (h *Hub) remove(id string) {
	if id == DefaultSessionID {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache.Remove(id)
}

// ResolveSession implements transport.SessionResolver: it resolves (and, if
// necessary, creates) requestedID's session before the connection is
// registered with the broadcast center, and remembers connID's resolved
// session for later routing.
func (h *Hub) ResolveSession(connID, requestedID string) string {
	ls, err := h.getOrCreate(requestedID)
	if err != nil {
		logger.Error().Err(err).Str("requested_session_id", requestedID).Msg("failed to resolve session for connection")
		if requestedID == "" {
			return connID
		}
		return requestedID
	}

	h.mu.Lock()
	h.conns[connID] = ls.ID
	h.mu.Unlock()
	return ls.ID
}

// HandleConnect implements transport.ConnectHandler: a freshly registered
// connection is caught up with a snapshot of the session's current window
// state.
func (h *Hub) HandleConnect(connID, sessionID string) {
	if ls, ok := h.get(sessionID); ok {
		ls.GenerateSnapshot(connID)
	}
}

// HandleDisconnect implements transport.DisconnectHandler: drop the
// connection's session mapping, and if it was that session's last open
// connection, persist its restorable state.
func (h *Hub) HandleDisconnect(connID, sessionID string) {
	h.mu.Lock()
	delete(h.conns, connID)
	h.mu.Unlock()

	if ls, ok := h.get(sessionID); ok && h.center.SessionConnectionCount(sessionID) == 0 {
		ls.Persist()
	}
}

// Route implements transport.Router, dispatching connID's message to the
// session it was resolved onto at connect time.
func (h *Hub) Route(connID string, msg transport.InboundMessage) {
	h.mu.Lock()
	sessionID, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		logger.Warn().Str("connection_id", connID).Msg("inbound message from a connection with no resolved session")
		return
	}

	ls, ok := h.get(sessionID)
	if !ok {
		logger.Warn().Str("session_id", sessionID).Msg("routed message to a session no longer held by the hub")
		return
	}
	ls.Route(connID, msg)
}
