// Package gateway is the websocket transport: it owns live connections,
// assigns opaque delivery handles, and feeds inbound frames to the
// dispatcher.
package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Limits bounds per-connection resource usage.
type Limits struct {
	SendBuffer   int
	ReadLimit    int64
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	ReadTimeout  time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.SendBuffer <= 0 {
		l.SendBuffer = 64
	}
	if l.ReadLimit <= 0 {
		l.ReadLimit = 1 << 20
	}
	if l.WriteTimeout <= 0 {
		l.WriteTimeout = 10 * time.Second
	}
	if l.PingPeriod <= 0 {
		l.PingPeriod = 30 * time.Second
	}
	if l.ReadTimeout <= 0 {
		l.ReadTimeout = 60 * time.Second
	}
	return l
}

var errConnClosed = errors.New("connection closed")

// Conn wraps one websocket and serializes outbound writes through a
// buffered channel. Safe for concurrent use.
type Conn struct {
	handle string

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
	limits Limits
}

func newConn(handle string, ws *websocket.Conn, limits Limits) *Conn {
	return &Conn{
		handle: handle,
		ws:     ws,
		send:   make(chan []byte, limits.SendBuffer),
		closed: make(chan struct{}),
		limits: limits,
	}
}

// Handle returns the transport-assigned delivery handle.
func (c *Conn) Handle() string { return c.handle }

func (c *Conn) start() {
	go c.writeLoop()
}

// enqueue hands payload to the write loop. A full buffer closes the
// connection so a slow consumer cannot pin unbounded memory.
func (c *Conn) enqueue(payload []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	case c.send <- payload:
	default:
		c.close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("send buffer exceeded")
	}
	// The select can buffer the payload even when close raced it and the
	// write loop already exited; report the drop instead of claiming
	// delivery.
	select {
	case <-c.closed:
		return errConnClosed
	default:
		return nil
	}
}

func (c *Conn) close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(c.limits.WriteTimeout)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.limits.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.limits.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
