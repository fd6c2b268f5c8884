package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Websocket timeouts following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum request size allowed from peer
	maxMessageSize = 512 * 1024

	// Per-client response queue depth
	sendQueueSize = 64
)

// Client is one websocket connection. Requests are handled on the read
// pump; responses go through the send queue so the write pump is the
// single writer on the connection.
type Client struct {
	server    *Server
	conn      *websocket.Conn
	send      chan *Response
	id        string
	closeOnce sync.Once

	sendMu sync.Mutex
	closed bool
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	return &Client{
		server: s,
		conn:   conn,
		send:   make(chan *Response, sendQueueSize),
		id:     uuid.NewString(),
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()
		c.conn.Close()
	})
}

// enqueue queues a response for the write pump, dropping it when the
// client is gone or cannot keep up.
func (c *Client) enqueue(resp *Response) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- resp:
	default:
		c.server.log.Warnw("Client send queue full, dropping response",
			"client_id", c.id,
			"request_id", resp.ID,
		)
	}
}

// readPump reads request envelopes and dispatches them.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
			c.close()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.server.log.Warnw("Malformed request envelope",
				"client_id", c.id,
				"error", err,
			)
			c.enqueue(codeResponse("", CodeBadRequest, "malformed request envelope"))
			continue
		}

		c.enqueue(c.server.dispatch(&req))
	}
}

func (c *Client) handleReadError(err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	) {
		c.server.log.Warnw("WebSocket read error",
			"client_id", c.id,
			"error", err,
		)
	}
}

// writePump writes responses and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case resp, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(resp); err != nil {
				c.server.log.Warnw("Response write error",
					"client_id", c.id,
					"error", err,
				)
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
