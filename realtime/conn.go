package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is a connection's position in its lifecycle. DISCONNECTED is
// terminal; authentication failure jumps straight there.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 32
)

// conn wraps one websocket connection. All writes go through the send
// channel so the write pump is the only goroutine touching the socket
// for output.
type conn struct {
	id    string
	token string
	ws    *websocket.Conn

	state atomic.Int32

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id, token string, ws *websocket.Conn) *conn {
	return &conn{
		id:    id,
		token: token,
		ws:    ws,
		send:  make(chan []byte, sendBufferSize),
		done:  make(chan struct{}),
	}
}

func (c *conn) State() State {
	return State(c.state.Load())
}

func (c *conn) setState(s State) {
	c.state.Store(int32(s))
}

func (c *conn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return State(c.state.Load()) != StateDisconnected
	}
}

// enqueue hands a message to the write pump without blocking. A full
// buffer means the client cannot keep up; the message is dropped and
// the caller may decide to close the connection.
func (c *conn) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// close transitions to DISCONNECTED and tears the socket down. Safe to
// call from any goroutine, any number of times.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.setState(StateDisconnected)
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump drains the send queue and emits the periodic heartbeat
// ping. Exits when the connection is closed or a write fails.
func (c *conn) writePump(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump consumes inbound frames to keep control handling alive and
// enforces the heartbeat read deadline. Returns when the peer goes
// away.
func (c *conn) readPump(heartbeat time.Duration) {
	defer c.close()

	deadline := 2 * heartbeat
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	}
}
