package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"canopy/internal/broadcast"
	"canopy/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Connection bridges one client socket to a Router and satisfies
// broadcast.Transport so the BroadcastCenter can publish through it.
type Connection struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	router Router
}

// NewConnection wraps an already-upgraded socket.
func NewConnection(conn *websocket.Conn, router Router) *Connection {
	return &Connection{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, 256),
		router: router,
	}
}

// ID returns the connection's identifier, the ConnectionId used by the
// broadcast center and session routing.
func (c *Connection) ID() string { return c.id }

// Send implements broadcast.Transport. It serializes event as JSON and
// enqueues it for the write pump; a full send buffer drops the event rather
// than blocking the publisher.
func (c *Connection) Send(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		logger.Warn().Str("connection_id", c.id).Msg("send buffer full, dropping event")
		return nil
	}
}

// Run starts the read and write pumps and blocks until the connection
// closes. Call it in its own goroutine.
func (c *Connection) Run(onClose func()) {
	go c.writePump()
	c.readPump(onClose)
}

func (c *Connection) readPump(onClose func()) {
	defer func() {
		onClose()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Str("connection_id", c.id).Msg("websocket read error")
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn().Err(err).Str("connection_id", c.id).Msg("failed to parse inbound message")
			continue
		}
		if msg.Tag == "" {
			logger.Warn().Str("connection_id", c.id).Msg("inbound message missing tag, ignored")
			continue
		}
		c.router.Route(c.id, msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error().Err(err).Str("connection_id", c.id).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Server upgrades HTTP requests to WebSocket connections, registers them
// with a BroadcastCenter under the session carried in the request, and
// hands decoded inbound messages to a Router.
type Server struct {
	center *broadcast.Center
	router Router
}

// NewServer builds a Server publishing through center and routing decoded
// messages to router.
func NewServer(center *broadcast.Center, router Router) *Server {
	return &Server{center: center, router: router}
}

// ServeHTTP upgrades the request and registers the resulting connection
// under sessionID (the "session" query parameter, or the connection id
// itself if absent).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := NewConnection(conn, s.router)
	connID := c.ID()
	requestedSession := r.URL.Query().Get("session")

	var sessionID string
	if resolver, ok := s.router.(SessionResolver); ok {
		sessionID = resolver.ResolveSession(connID, requestedSession)
	} else {
		sessionID = requestedSession
		if sessionID == "" {
			sessionID = connID
		}
	}

	s.center.Subscribe(connID, c, sessionID)
	if monitorID := r.URL.Query().Get("monitor"); monitorID != "" {
		s.center.SubscribeToMonitor(connID, monitorID)
	}
	if handler, ok := s.router.(ConnectHandler); ok {
		handler.HandleConnect(connID, sessionID)
	}

	c.Run(func() {
		s.center.Unsubscribe(connID)
		if handler, ok := s.router.(DisconnectHandler); ok {
			handler.HandleDisconnect(connID, sessionID)
		}
	})
}
