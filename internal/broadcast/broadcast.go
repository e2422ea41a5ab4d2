// Package broadcast maps connections to sessions and fans outbound events
// out by session or by per-connection monitor subscription.
package broadcast

import (
	"sync"

	"canopy/pkg/logger"
)

// Transport delivers one already-serialized event to its connection. A
// transport failure is logged and swallowed by the center; it never
// propagates back to the caller.
type Transport interface {
	Send(event any) error
}

type connection struct {
	transport   Transport
	sessionID   string
	monitors    map[string]bool // empty set = receives everything
}

// Center owns the ConnectionId -> {transport, sessionId, subscribedMonitors}
// mapping and publishes events to it.
type Center struct {
	mu          sync.RWMutex
	connections map[string]*connection
	sessions    map[string]map[string]bool // sessionId -> set of connIds
}

// New creates an empty Center.
func New() *Center {
	return &Center{
		connections: make(map[string]*connection),
		sessions:    make(map[string]map[string]bool),
	}
}

// Subscribe registers connId as belonging to sessionId over transport.
func (c *Center) Subscribe(connID string, transport Transport, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connections[connID] = &connection{
		transport: transport,
		sessionID: sessionID,
		monitors:  make(map[string]bool),
	}
	if c.sessions[sessionID] == nil {
		c.sessions[sessionID] = make(map[string]bool)
	}
	c.sessions[sessionID][connID] = true
}

// Unsubscribe removes a connection entirely.
func (c *Center) Unsubscribe(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.connections[connID]
	if !ok {
		return
	}
	delete(c.connections, connID)
	if conns, ok := c.sessions[conn.sessionID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(c.sessions, conn.sessionID)
		}
	}
}

// SubscribeToMonitor narrows connId's subscription set to include monitorID.
// A connection with an empty subscription set still receives every event
// until its first monitor subscription.
func (c *Center) SubscribeToMonitor(connID, monitorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.connections[connID]
	if !ok {
		return
	}
	conn.monitors[monitorID] = true
}

// PublishToConnection delivers event to connId only, returning whether it
// was delivered (connId is currently subscribed).
func (c *Center) PublishToConnection(event any, connID string) bool {
	c.mu.RLock()
	conn, ok := c.connections[connID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	c.send(conn, connID, event)
	return true
}

// PublishToSession fans event out to every open connection of sessionID.
func (c *Center) PublishToSession(sessionID string, event any) {
	c.mu.RLock()
	connIDs := make([]string, 0, len(c.sessions[sessionID]))
	for connID := range c.sessions[sessionID] {
		connIDs = append(connIDs, connID)
	}
	conns := make([]*connection, 0, len(connIDs))
	for _, connID := range connIDs {
		conns = append(conns, c.connections[connID])
	}
	c.mu.RUnlock()

	for i, conn := range conns {
		c.send(conn, connIDs[i], event)
	}
}

// PublishToMonitor fans event out to sessionID's connections, skipping any
// connection whose subscription set is non-empty and does not include
// monitorID.
func (c *Center) PublishToMonitor(sessionID, monitorID string, event any) {
	c.mu.RLock()
	type target struct {
		id   string
		conn *connection
	}
	var targets []target
	for connID := range c.sessions[sessionID] {
		conn := c.connections[connID]
		if conn == nil {
			continue
		}
		if len(conn.monitors) > 0 && !conn.monitors[monitorID] {
			continue
		}
		targets = append(targets, target{connID, conn})
	}
	c.mu.RUnlock()

	for _, t := range targets {
		c.send(t.conn, t.id, event)
	}
}

func (c *Center) send(conn *connection, connID string, event any) {
	if conn == nil {
		return
	}
	if err := conn.transport.Send(event); err != nil {
		logger.Warn().Err(err).Str("connection_id", connID).Msg("broadcast delivery failed")
	}
}

// ConnectionCount returns the number of live connections, used by tests and
// diagnostics.
func (c *Center) ConnectionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.connections)
}

// SessionConnectionCount returns the number of open connections for a
// session.
func (c *Center) SessionConnectionCount(sessionID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions[sessionID])
}
