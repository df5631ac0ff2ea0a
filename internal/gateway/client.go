package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 4096             // bytes; joinAuction and placeBid frames are small
	sendBufferSize = 256              // messages in each client send channel

	requestTimeout = 5 * time.Second // per inbound frame
)

// Client represents one connected WebSocket endpoint. A client belongs to at
// most one auction room at a time; room membership is mirrored into the
// shared presence store so other replicas can address it.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte // buffered outbound message queue
	connID string
	userID uuid.UUID

	// auctionID is the room this connection has joined, uuid.Nil before the
	// first join. Written only by readPump, read by the hub under its lock
	// via the rooms map, so no separate guard is needed here.
	auctionID uuid.UUID
}

// enqueue puts a pre-encoded frame on the client's send queue, dropping it if
// the buffer is full. A stalled connection is detected by the write pump.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// sendEvent encodes and enqueues one frame.
func (c *Client) sendEvent(event string, data any) {
	body, err := encodeFrame(event, data)
	if err != nil {
		c.hub.logger.Error("frame encode failed", "event", event, "error", err)
		return
	}
	c.enqueue(body)
}

// sendError reports a request-scoped failure without closing the connection.
func (c *Client) sendError(code, message string) {
	c.sendEvent(EventError, ErrorData{Code: code, Message: message})
}

// ──────────────────────────────────────────────────────────────────────────────
// Pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the client's send channel and writes frames to the
// connection, interleaving ping frames every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound frames and dispatches them to the hub. When the
// connection drops, for any reason, the client is unregistered and its
// presence entries are cleaned up.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("unexpected close", "conn_id", c.connID, "user_id", c.userID, "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError(CodeInvalidPayload, "malformed frame")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		c.hub.handleFrame(ctx, c, frame)
		cancel()
	}
}
