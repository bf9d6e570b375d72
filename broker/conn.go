package broker

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dropwire/signal"
)

// rolePending marks a joiner held between password-required and a successful
// verify-password; it is not bound to the room's receiver slot yet.
const rolePending = "pending"

const connWriteTimeout = 10 * time.Second

// conn is one registered broker connection with its role and room binding.
type conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	roomID string
	role   string

	// alive is set by any inbound traffic and cleared by the liveness loop;
	// a connection that misses a full liveness cycle is terminated.
	alive atomic.Bool

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{ws: ws}
	c.alive.Store(true)
	return c
}

// Send marshals and writes one wire message. Sends are best-effort: a write
// failure closes the connection and the read pump performs cleanup.
func (c *conn) Send(msg signal.Message) {
	payload, err := signal.Encode(msg)
	if err != nil {
		log.Printf("broker: encode %s: %v", msg.Kind(), err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(connWriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.close()
	}
}

func (c *conn) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(connWriteTimeout))
}

func (c *conn) bind(roomID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.role = role
}

func (c *conn) binding() (roomID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.role
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}
