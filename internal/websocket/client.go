// internal/websocket/client.go
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/auth"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/metrics"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 512                 // Maximum message size allowed from peer.

	DefaultQueueSize = 256
)

// Client is one live session: its connection and a bounded outbound queue.
// When the queue is full the oldest message is dropped; producers never
// wait on a slow reader.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *auth.Session
	log     *zap.Logger

	mu      sync.Mutex
	queue   [][]byte
	limit   int
	closed  bool
	dropped uint64

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, s *auth.Session, limit int) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		session: s,
		log:     h.log.With(zap.String("connection_id", s.ConnectionID), zap.String("identity", s.Identity)),
		limit:   limit,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (c *Client) Session() *auth.Session { return c.session }

// Done is closed once the client is disconnected.
func (c *Client) Done() <-chan struct{} { return c.done }

// enqueue appends msg in FIFO order and reports whether the client is still
// open.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if len(c.queue) >= c.limit {
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.dropped++
		metrics.HubDroppedTotal.Inc()
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return true
}

// drain takes every queued message.
func (c *Client) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

// Dropped reports how many messages overflowed the queue.
func (c *Client) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// close discards pending messages and stops the writer. It reports whether
// this call did the closing.
func (c *Client) close() bool {
	closed := false
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue = nil
		c.mu.Unlock()
		close(c.done)
		closed = true
	})
	return closed
}

type clientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// ReadPump reads client commands until the connection fails, then
// disconnects the client from the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
		c.log.Debug("readPump finished")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Info("websocket read error", zap.Error(err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.sendError(c, "malformed message")
			continue
		}
		c.hub.handle(c, msg)
	}
}

// WritePump writes queued messages and pings to the connection. It exits
// when the client is disconnected, a write fails or the session expires.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("writePump finished")
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.signal:
			for _, msg := range c.drain() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					c.log.Info("websocket write error", zap.Error(err))
					c.hub.Disconnect(c)
					return
				}
			}

		case <-ticker.C:
			if c.session.Expired(c.hub.now()) {
				c.log.Info("session expired")
				c.hub.sendError(c, "session expired")
				for _, msg := range c.drain() {
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.TextMessage, msg)
				}
				c.hub.Disconnect(c)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Info("websocket ping error", zap.Error(err))
				c.hub.Disconnect(c)
				return
			}
		}
	}
}
