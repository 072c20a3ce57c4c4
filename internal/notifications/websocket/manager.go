package websocket

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bloodhero/donation-portal/donation-portal-backend/internal/notifications"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Manager holds the live connections of logged-in users so lifecycle
// notifications reach open dashboards immediately.
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection is one client socket. A user may hold several at once.
type Connection struct {
	ID           string
	UserID       string
	Conn         *websocket.Conn
	Send         chan notifications.WebSocketMessage
	LastActivity time.Time
	mu           sync.Mutex
}

type hub struct {
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
}

// NewManager creates a WebSocket manager and starts its hub.
func NewManager(logger *zap.Logger) *Manager {
	h := &hub{
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
	}

	m := &Manager{
		connections: make(map[string]*Connection),
		hub:         h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}

	go m.run()

	return m
}

// HandleConnection upgrades the request and registers the socket for the
// authenticated user. The caller supplies the user id from its auth layer.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:           uuid.New().String(),
		UserID:       userID,
		Conn:         conn,
		Send:         make(chan notifications.WebSocketMessage, sendBuffer),
		LastActivity: time.Now(),
	}

	m.hub.register <- connection

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	go m.readPump(connection)
	go m.writePump(connection)

	// Confirm the subscription so the client knows it is live.
	connection.Send <- notifications.WebSocketMessage{
		Type:      notifications.WSMessageTypeStatus,
		Subject:   "connected",
		Timestamp: time.Now(),
		Target:    userID,
	}

	return nil
}

func (m *Manager) readPump(conn *Connection) {
	defer func() {
		m.hub.unregister <- conn
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Clients only listen; inbound frames just refresh activity.
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("websocket read error",
					zap.String("user_id", conn.UserID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()
	}
}

func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) run() {
	for {
		select {
		case conn := <-m.hub.register:
			m.hub.connections[conn] = true
			m.logger.Debug("websocket connection registered",
				zap.String("connection_id", conn.ID), zap.String("user_id", conn.UserID))

		case conn := <-m.hub.unregister:
			if _, ok := m.hub.connections[conn]; ok {
				delete(m.hub.connections, conn)
				m.mu.Lock()
				delete(m.connections, conn.ID)
				m.mu.Unlock()
				close(conn.Send)
				m.logger.Debug("websocket connection unregistered",
					zap.String("connection_id", conn.ID), zap.String("user_id", conn.UserID))
			}

		case <-m.hub.stop:
			for conn := range m.hub.connections {
				close(conn.Send)
				delete(m.hub.connections, conn)
			}
			return
		}
	}
}

// SendToUser delivers a message to every open connection of the user.
// Returns an error when no connection took the message.
func (m *Manager) SendToUser(userID string, message notifications.WebSocketMessage) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	message.Target = userID
	sent := 0
	for _, conn := range m.connections {
		if conn.UserID != userID {
			continue
		}
		select {
		case conn.Send <- message:
			sent++
		default:
			// Buffer full; the pump will tear the connection down on its own.
		}
	}

	if sent == 0 {
		return fmt.Errorf("user %s not connected", userID)
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Close shuts down the hub and every open connection.
func (m *Manager) Close() {
	close(m.hub.stop)

	m.mu.Lock()
	for id, conn := range m.connections {
		conn.Conn.Close()
		delete(m.connections, id)
	}
	m.mu.Unlock()
}
