package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/turflads/crazy-bids-sub000/go/internal/store"
)

// ConnectionManager owns the WebSocket connection pool and pushes every
// accepted document update to all connected clients.
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	store Store
	relay *Relay
	clock clockwork.Clock

	// syncMu serializes {persist, enqueue broadcast} per document kind so
	// the broadcast order matches the persistence order.
	syncMu map[store.Kind]*sync.Mutex

	broadcastCh chan BroadcastMessage
}

// Store is the document store interface the manager needs. Satisfied by
// *store.Store.
type Store interface {
	Get(ctx context.Context, kind store.Kind) (json.RawMessage, error)
	Put(ctx context.Context, kind store.Kind, doc json.RawMessage) error
	Refresh(ctx context.Context, kind store.Kind) (json.RawMessage, error)
	Persistent() bool
}

// Connection represents one WebSocket client.
type Connection struct {
	ID      string
	Role    string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	// sendMu serializes queueing against close so a broadcast can never
	// hit a closed Send channel.
	sendMu sync.Mutex
	closed bool
}

// sendFrame queues a frame unless the connection has been closed or its
// buffer is full. open reports whether the connection was still accepting
// frames at all.
func (c *Connection) sendFrame(frame []byte) (queued, open bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false, false
	}
	select {
	case c.Send <- frame:
		return true, true
	default:
		return false, true
	}
}

// closeSend closes the Send channel exactly once.
func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one frame queued for fan-out. Exclude, when set, is
// the connection the frame came from; it already holds the state.
type BroadcastMessage struct {
	Frame   []byte
	Exclude *Connection
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  512 * 1024, // full auction documents, not small commands
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager. relay and
// clock may be nil; a nil clock falls back to the real one.
func NewConnectionManager(config ConnectionConfig, st Store, relay *Relay, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	syncMu := make(map[store.Kind]*sync.Mutex, len(store.Kinds))
	for _, kind := range store.Kinds {
		syncMu[kind] = &sync.Mutex{}
	}
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		store:       st,
		relay:       relay,
		clock:       clock,
		syncMu:      syncMu,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket, seeds it with
// the current document snapshots and starts its pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, role string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Role:        role,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
		LastPing:    cm.clock.Now(),
	}

	cm.registerConnection(r.Context(), connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("role", role).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection seeds the connection with the current snapshots and
// adds it to the pool. Both kind locks are held so that every update is
// either in the seed or in a broadcast the connection will receive, never
// neither.
func (cm *ConnectionManager) registerConnection(ctx context.Context, conn *Connection) {
	for _, kind := range store.Kinds {
		cm.syncMu[kind].Lock()
	}
	defer func() {
		for _, kind := range store.Kinds {
			cm.syncMu[kind].Unlock()
		}
	}()

	for _, kind := range store.Kinds {
		doc, err := cm.store.Get(ctx, kind)
		if err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Msg("failed to load snapshot for new connection")
			continue
		}
		if doc == nil {
			continue
		}
		frame, err := json.Marshal(Message{
			Type:      MessageTypeForKind(kind),
			Timestamp: cm.clock.Now(),
			Data:      doc,
		})
		if err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Msg("failed to marshal snapshot")
			continue
		}
		// Send is freshly made with room for both seeds; nothing else can
		// write to it before the pool sees the connection.
		conn.Send <- frame
	}

	cm.mu.Lock()
	cm.connections[conn] = true
	total := len(cm.connections)
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the pool.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn]; exists {
		delete(cm.connections, conn)
		conn.closeSend()

		log.Info().
			Str("connection_id", conn.ID).
			Str("role", conn.Role).
			Msg("connection unregistered")
	}
}

// ApplyDocument persists a full replacement document and fans the frame out
// to every connection except origin. This is the single write path: inbound
// WebSocket updates, REST writes and relayed sibling updates all go through
// it so broadcast order matches persistence order.
func (cm *ConnectionManager) ApplyDocument(ctx context.Context, kind store.Kind, msg Message, origin *Connection) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", kind, err)
	}

	lock := cm.syncMu[kind]
	lock.Lock()
	defer lock.Unlock()

	if err := cm.store.Put(ctx, kind, msg.Data); err != nil {
		return err
	}
	cm.enqueueBroadcast(BroadcastMessage{Frame: frame, Exclude: origin})

	if cm.relay != nil && origin != remoteOrigin {
		cm.relay.Publish(msg)
	}
	return nil
}

// Ephemeral fans a non-document frame (chat) out to every connection except
// origin. Nothing is persisted.
func (cm *ConnectionManager) Ephemeral(msg Message, origin *Connection) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", msg.Type, err)
	}
	cm.enqueueBroadcast(BroadcastMessage{Frame: frame, Exclude: origin})
	if cm.relay != nil && origin != remoteOrigin {
		cm.relay.Publish(msg)
	}
	return nil
}

// ApplyRemote handles a frame relayed from a sibling server instance. The
// sibling already persisted document frames, so here the cache is refreshed
// rather than written again; in cache-only mode the payload is stored
// directly. Either way the frame fans out to every local connection.
func (cm *ConnectionManager) ApplyRemote(ctx context.Context, msg Message) {
	kind, isDocument := DocumentKind(msg.Type)
	if !isDocument {
		if err := cm.Ephemeral(msg, remoteOrigin); err != nil {
			log.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to fan out relayed chat frame")
		}
		return
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to marshal relayed frame")
		return
	}

	lock := cm.syncMu[kind]
	lock.Lock()
	defer lock.Unlock()

	if cm.store.Persistent() {
		if _, err := cm.store.Refresh(ctx, kind); err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Msg("failed to refresh document after relay frame")
		}
	} else if err := cm.store.Put(ctx, kind, msg.Data); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to cache relayed document")
	}
	cm.enqueueBroadcast(BroadcastMessage{Frame: frame, Exclude: remoteOrigin})
}

// remoteOrigin marks frames that arrived over the relay from a sibling
// server. They fan out to every local connection but must not be published
// back onto the relay.
var remoteOrigin = &Connection{ID: "relay"}

func (cm *ConnectionManager) enqueueBroadcast(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		if conn == message.Exclude {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		queued, open := conn.sendFrame(message.Frame)
		if queued || !open {
			continue
		}
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", conn.ID).
			Str("role", conn.Role).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Int("connections", len(targets)).
		Msg("frame broadcasted")
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() (total int, roles map[string]int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	roles = make(map[string]int)
	for conn := range cm.connections {
		roles[conn.Role]++
	}
	return len(cm.connections), roles
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
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
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = c.Manager.clock.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = c.Manager.clock.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes one inbound frame. Malformed frames are
// logged and dropped; they never tear the connection down.
func (c *Connection) handleClientMessage(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping malformed frame")
		return
	}
	if !isKnownType(msg.Type) {
		log.Warn().
			Str("connection_id", c.ID).
			Str("type", string(msg.Type)).
			Msg("dropping frame with unknown type")
		return
	}

	kind, isDocument := DocumentKind(msg.Type)
	if !isDocument {
		if err := c.Manager.Ephemeral(msg, c); err != nil {
			log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to relay chat frame")
		}
		return
	}

	if msg.Data == nil || !json.Valid(msg.Data) {
		log.Warn().
			Str("connection_id", c.ID).
			Str("type", string(msg.Type)).
			Msg("dropping document frame with invalid payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Manager.ApplyDocument(ctx, kind, msg, c); err != nil {
		log.Error().
			Err(err).
			Str("connection_id", c.ID).
			Str("kind", string(kind)).
			Msg("failed to apply document update")
	}
}
