package transport

// Router is the single exhaustive dispatch site for inbound events. A
// LiveSession (or SessionHub, for connection-scoped tags like
// SUBSCRIBE_MONITOR) implements this to receive decoded messages from a
// connection. Implementations must not block the connection's read pump for
// long; hand heavy work off to a queue.
type Router interface {
	// Route handles one inbound message from connID. Unknown tags are the
	// router's responsibility to log and ignore — Route itself is never
	// called for a tag transport failed to parse.
	Route(connID string, msg InboundMessage)
}

// SessionResolver lets a Router decide which session id a connection is
// registered under, overriding the raw "session" query parameter — e.g. a
// SessionHub reusing its default session for an empty request, or minting a
// fresh session for an id it has not seen. A Router that does not implement
// this uses the raw query parameter, falling back to the connection's own
// id when absent.
type SessionResolver interface {
	ResolveSession(connID, requestedID string) string
}

// ConnectHandler lets a Router react to a connection once it is registered
// with the broadcast center, before any inbound message arrives — e.g. to
// replay a snapshot of current state.
type ConnectHandler interface {
	HandleConnect(connID, sessionID string)
}

// DisconnectHandler lets a Router react after a connection's read pump has
// exited and it has been unregistered from the broadcast center.
type DisconnectHandler interface {
	HandleDisconnect(connID, sessionID string)
}
