package ws

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 64 << 10
	sendBuffer    = 64
)

// ConnInfo identifies a websocket connection for logs and audit trails.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Client is one live websocket connection. All writes go through the send
// channel so the write pump stays the single writer on the conn.
type Client struct {
	ID     string
	UserID int
	Info   ConnInfo

	conn *websocket.Conn
	send chan []byte

	// rooms is owned by the hub and guarded by its mutex.
	rooms map[int]bool

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{
		ID:     info.ConnID,
		UserID: info.UserID,
		Info:   info,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[int]bool),
	}
}

// enqueue hands a payload to the write pump. It reports false when the client
// is closed or its buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel, which makes the write pump send a close
// frame and tear the connection down. Idempotent.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump drains the send channel onto the socket and keeps the connection
// alive with pings. It exits when the channel closes or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("websocket write error: conn=%s err=%v", c.ID, err)
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

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
