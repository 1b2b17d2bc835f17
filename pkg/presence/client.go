package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrixx/pkg/logger"
	"chatrixx/pkg/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 4096
	defaultSendBuf = 256
)

// Client is one live websocket connection owned by a user.
type Client struct {
	UserID string

	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection. sendBuf <= 0 uses the default.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, sendBuf int) *Client {
	if sendBuf <= 0 {
		sendBuf = defaultSendBuf
	}
	return &Client{UserID: userID, hub: hub, conn: conn, send: make(chan []byte, sendBuf)}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// trySend queues a frame without blocking; a full buffer drops the frame so
// a slow consumer never stalls the dispatch path.
func (c *Client) trySend(data []byte) {
	defer func() {
		// send on a closed channel during teardown is not an error worth
		// propagating
		if recover() != nil {
			telemetry.BroadcastsDropped.Inc()
		}
	}()
	select {
	case c.send <- data:
		telemetry.BroadcastsDelivered.Inc()
	default:
		telemetry.BroadcastsDropped.Inc()
		logger.Warn("client_send_buffer_full", "user", c.UserID)
	}
}

// ReadPump consumes inbound frames, decoding each into an Event and handing
// it to onEvent. It unregisters the client on exit.
func (c *Client) ReadPump(onEvent func(*Client, Event)) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws_read_error", "user", c.UserID, "error", err)
			}
			return
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			c.trySend(Event{Type: "error", Data: map[string]any{"error": "invalid_json"}}.encode())
			continue
		}
		onEvent(c, e)
	}
}

// WritePump drains the send buffer onto the connection and keeps it alive
// with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
