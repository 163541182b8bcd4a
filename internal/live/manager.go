// Package live pushes session hints to browser tabs over WebSockets.
package live

import (
	"log/slog"
	"sync"
)

// ConnManager tracks the live connection of every (user, tab) pair.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*Conn
}

// NewConnManager creates an empty manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*Conn),
	}
}

// Get returns the active connection for a user and tab session.
func (m *ConnManager) Get(userID, sessionID string) *Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register makes conn the connection for userID/sessionID. A previous
// connection for the same pair is closed in the background, since the
// close handshake waits on the peer.
func (m *ConnManager) Register(userID, sessionID string, conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*Conn)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		go existing.Close("session replaced")
	}

	m.active[userID][sessionID] = conn
	slog.Info("Live session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the registered connection.
func (m *ConnManager) Unregister(userID, sessionID string, conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Live session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// Count returns the number of registered connections.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseAll closes every connection, used on shutdown.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	var all []*Conn
	for userID, sessions := range m.active {
		for _, conn := range sessions {
			all = append(all, conn)
		}
		delete(m.active, userID)
	}
	m.mu.Unlock()

	for _, conn := range all {
		conn.Close("server shutting down")
	}
}
