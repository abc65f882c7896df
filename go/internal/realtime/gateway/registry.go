package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Registry tracks the live WebSocket connections per session and which
// user each belongs to. A user with several tabs open holds several
// connections; the registry only signals "user departed" when the last
// one closes.
type Registry struct {
	// Connection pools and per-user connection counts, keyed by session
	sessionConnections map[string]map[*Connection]bool
	userConnections    map[string]map[string]int
	mu                 sync.RWMutex

	config ConnectionConfig

	broadcastCh chan BroadcastMessage

	// Lifecycle callbacks wired by the gateway service
	onMessage    MessageHandler
	onDisconnect DisconnectHandler
}

// Connection represents one WebSocket connection to a participant.
type Connection struct {
	ID        string
	SessionID string
	UserID    string
	Conn      *websocket.Conn
	Send      chan []byte
	registry  *Registry

	ConnectedAt time.Time
	LastPing    time.Time

	closeOnce sync.Once
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage queues an envelope for delivery to a session's
// connections.
type BroadcastMessage struct {
	SessionID string
	Envelope  *Envelope
	// Exclude skips one connection, used to avoid resending the
	// initial state_sync the handshake already delivered.
	Exclude *Connection
}

// MessageHandler processes one inbound frame from a connection.
type MessageHandler func(ctx context.Context, conn *Connection, data []byte)

// DisconnectHandler observes a closed connection. userDeparted is true
// only when this was the user's last connection in the session.
type DisconnectHandler func(conn *Connection, userDeparted bool)

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewRegistry creates a connection registry.
func NewRegistry(config ConnectionConfig) *Registry {
	return &Registry{
		sessionConnections: make(map[string]map[*Connection]bool),
		userConnections:    make(map[string]map[string]int),
		config:             config,
		broadcastCh:        make(chan BroadcastMessage, 1000),
	}
}

// SetHandlers wires the inbound message and disconnect callbacks.
// Must be called before any connection is registered.
func (r *Registry) SetHandlers(onMessage MessageHandler, onDisconnect DisconnectHandler) {
	r.onMessage = onMessage
	r.onDisconnect = onDisconnect
}

// Start processes queued broadcasts until the context is done.
func (r *Registry) Start(ctx context.Context) {
	log.Info().Msg("connection registry started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection registry shutting down")
			return
		case message := <-r.broadcastCh:
			r.handleBroadcast(message)
		}
	}
}

// NewConnection wraps an upgraded WebSocket in a registry connection.
func (r *Registry) NewConnection(conn *websocket.Conn, sessionID, userID string) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		UserID:      userID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		registry:    r,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}
}

// Register adds the connection and reports whether it is the first
// live connection for its user in this session.
func (r *Registry) Register(conn *Connection) (firstForUser bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessionConnections[conn.SessionID] == nil {
		r.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
		r.userConnections[conn.SessionID] = make(map[string]int)
	}
	r.sessionConnections[conn.SessionID][conn] = true
	r.userConnections[conn.SessionID][conn.UserID]++
	firstForUser = r.userConnections[conn.SessionID][conn.UserID] == 1

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Str("user_id", conn.UserID).
		Int("session_connections", len(r.sessionConnections[conn.SessionID])).
		Msg("connection registered")
	return firstForUser
}

// unregister removes the connection, decrements the user's count and
// fires the disconnect callback outside the lock. Safe to call from
// both pumps; only the first call has any effect.
//
// Send is closed in the same critical section that removes the
// connection from the pool. Producers send only while holding the read
// lock after re-checking membership, so a send can never race the
// close.
func (r *Registry) unregister(conn *Connection) {
	var userDeparted, removed bool

	r.mu.Lock()
	if connections, exists := r.sessionConnections[conn.SessionID]; exists {
		if connections[conn] {
			delete(connections, conn)
			close(conn.Send)
			removed = true

			users := r.userConnections[conn.SessionID]
			users[conn.UserID]--
			if users[conn.UserID] <= 0 {
				delete(users, conn.UserID)
				userDeparted = true
			}

			if len(connections) == 0 {
				delete(r.sessionConnections, conn.SessionID)
				delete(r.userConnections, conn.SessionID)
			}
		}
	}
	r.mu.Unlock()

	if !removed {
		return
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID).
		Str("user_id", conn.UserID).
		Bool("user_departed", userDeparted).
		Msg("connection unregistered")

	if r.onDisconnect != nil {
		r.onDisconnect(conn, userDeparted)
	}
}

// Broadcast queues an envelope for every live connection of a session,
// including the actor's own: all participants see the same canonical
// state.
func (r *Registry) Broadcast(sessionID string, envelope *Envelope) {
	select {
	case r.broadcastCh <- BroadcastMessage{SessionID: sessionID, Envelope: envelope}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastExcept queues an envelope for all connections but one.
func (r *Registry) BroadcastExcept(sessionID string, envelope *Envelope, exclude *Connection) {
	select {
	case r.broadcastCh <- BroadcastMessage{SessionID: sessionID, Envelope: envelope, Exclude: exclude}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("broadcast channel full, dropping message")
	}
}

// SendTo delivers an envelope to a single connection, bypassing the
// broadcast queue. Used for the handshake state_sync and for error
// envelopes addressed to the originating connection only. A connection
// its pumps already tore down is skipped silently.
func (r *Registry) SendTo(conn *Connection, envelope *Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal envelope for direct send")
		return
	}

	delivered := false
	r.mu.RLock()
	registered := r.sessionConnections[conn.SessionID][conn]
	if registered {
		select {
		case conn.Send <- data:
			delivered = true
		default:
		}
	}
	r.mu.RUnlock()

	if registered && !delivered {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		r.unregister(conn)
		conn.Conn.Close()
	}
}

// handleBroadcast fans a queued message out to its session. Sends are
// non-blocking and happen under the read lock, which excludes them
// from unregister's close of the Send channel; slow consumers are
// collected and dropped after the lock is released.
func (r *Registry) handleBroadcast(message BroadcastMessage) {
	data, err := json.Marshal(message.Envelope)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal envelope for broadcast")
		return
	}

	var delivered int
	var dropped []*Connection

	r.mu.RLock()
	connections, exists := r.sessionConnections[message.SessionID]
	if !exists {
		r.mu.RUnlock()
		return
	}
	for conn := range connections {
		if conn == message.Exclude {
			continue
		}
		select {
		case conn.Send <- data:
			delivered++
		default:
			dropped = append(dropped, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range dropped {
		// Slow or dead consumer; drop it so the rest of the session
		// is not stalled.
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		r.unregister(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event", string(message.Envelope.Event)).
		Str("session_id", message.SessionID).
		Int("connections", delivered).
		Msg("envelope broadcast")
}

// Stats summarizes active connections for the stats endpoint.
type Stats struct {
	TotalConnections   int            `json:"totalConnections"`
	ActiveSessions     int            `json:"activeSessions"`
	SessionConnections map[string]int `json:"sessionConnections"`
}

// GetStats returns statistics about active connections.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{SessionConnections: make(map[string]int)}
	for sessionID, connections := range r.sessionConnections {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[sessionID] = len(connections)
	}
	stats.ActiveSessions = len(r.sessionConnections)
	return stats
}

// UserCount returns the number of live connections a user holds in a
// session.
func (r *Registry) UserCount(sessionID, userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userConnections[sessionID][userID]
}

// StartPumps launches the read and write goroutines for a registered
// connection.
func (c *Connection) StartPumps() {
	go c.writePump()
	go c.readPump()
}

// Close tears the connection down at most once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.Conn.Close()
	})
}

// writePump sends queued frames and keepalive pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.registry.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		c.registry.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.registry.config.WriteTimeout))
			if !ok {
				// Channel was closed by unregister
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.registry.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump reads inbound frames sequentially, which gives every
// connection in-order processing of its own messages.
func (c *Connection) readPump() {
	defer func() {
		c.registry.unregister(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(c.registry.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.registry.onMessage != nil {
			c.registry.onMessage(context.Background(), c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
	}
}
