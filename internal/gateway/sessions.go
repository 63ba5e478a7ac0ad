package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrHandleGone marks a push to a handle with no live connection, typically
// because its owner disconnected after registering.
var ErrHandleGone = errors.New("no live connection for handle")

// Sessions maps delivery handles to live connections and implements the
// push primitive the delivery gate builds on.
type Sessions struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewSessions builds an empty session table.
func NewSessions() *Sessions {
	return &Sessions{conns: make(map[string]*Conn)}
}

// Attach registers ws under a freshly assigned handle and starts its write
// loop.
func (s *Sessions) Attach(ws *websocket.Conn, limits Limits) *Conn {
	conn := newConn(uuid.NewString(), ws, limits.withDefaults())

	s.mu.Lock()
	s.conns[conn.handle] = conn
	s.mu.Unlock()

	conn.start()
	return conn
}

// Detach removes and closes the connection for handle, if still tracked.
func (s *Sessions) Detach(handle string) {
	s.mu.Lock()
	conn := s.conns[handle]
	delete(s.conns, handle)
	s.mu.Unlock()

	if conn != nil {
		conn.close(websocket.CloseNormalClosure, "session closed")
	}
}

// Push delivers payload to the connection owning handle.
func (s *Sessions) Push(_ context.Context, handle string, payload []byte) error {
	s.mu.RLock()
	conn := s.conns[handle]
	s.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("handle %s: %w", handle, ErrHandleGone)
	}
	return conn.enqueue(payload)
}

// Len reports the number of live connections.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Close tears down every tracked connection.
func (s *Sessions) Close() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[string]*Conn)
	s.mu.Unlock()

	for _, conn := range conns {
		conn.close(websocket.CloseGoingAway, "gateway shutdown")
	}
}
