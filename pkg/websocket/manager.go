package websocket

import (
	"sync"

	"rider-map/pkg/logger"
)

// Manager tracks the open admin map sockets so app-wide notices
// (pending applications badge, shutdown) can reach all of them.
type Manager struct {
	connections map[string]*Connection // connection id -> connection
	mu          sync.RWMutex
	log         logger.Logger
}

// NewManager creates a new WebSocket manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		log:         log,
	}
}

// AddConnection registers a new connection
func (m *Manager) AddConnection(conn *Connection) {
	m.mu.Lock()
	m.connections[conn.ID] = conn
	total := len(m.connections)
	m.mu.Unlock()

	m.log.WithFields(logger.LogFields{
		"session_id": conn.ID,
		"total":      total,
	}).Info("websocket_connected", "New connection added")
}

// RemoveConnection removes and closes a connection
func (m *Manager) RemoveConnection(id string) {
	m.mu.Lock()
	conn, ok := m.connections[id]
	if ok {
		delete(m.connections, id)
	}
	total := len(m.connections)
	m.mu.Unlock()

	if !ok {
		return
	}
	conn.Close()
	m.log.WithFields(logger.LogFields{
		"session_id": id,
		"total":      total,
	}).Info("websocket_disconnected", "Connection removed")
}

// Broadcast sends a message to all connected admins
func (m *Manager) Broadcast(message interface{}) {
	m.mu.RLock()
	connections := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		connections = append(connections, conn)
	}
	m.mu.RUnlock()

	for _, conn := range connections {
		if err := conn.WriteJSON(message); err != nil {
			m.log.WithFields(logger.LogFields{"session_id": conn.ID}).Error("websocket_broadcast_failed", err)
		}
	}
}

// CloseAll closes every tracked connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	connections := m.connections
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	for _, conn := range connections {
		conn.Close()
	}
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}
