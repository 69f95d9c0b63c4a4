package wshub

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxCommandSize = 512
	sendBufferSize = 64
)

// command is a client-originated subscription request.
type command struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Client is one connected WebSocket session. Frames queued for it are
// delivered by its write pump; subscription commands are read by its read
// pump.
type Client struct {
	ID string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger zerolog.Logger

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "WsClient").Str("client_id", id).Logger(),
	}
}

// trySend queues a frame without blocking. It reports false when the client
// is closed or its buffer is full.
func (c *Client) trySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close signals both pumps to exit. The send channel is never closed; the
// done channel carries the shutdown signal so concurrent trySend calls stay
// safe.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// readPump reads subscription commands until the connection drops. It owns
// unregistering the client.
func (c *Client) readPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxCommandSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("Client connection closed unexpectedly.")
			}
			return
		}
		switch cmd.Action {
		case "subscribe":
			if cmd.Topic != "" {
				c.hub.Join(c, cmd.Topic)
				c.logger.Debug().Str("topic", cmd.Topic).Msg("Client subscribed.")
			}
		case "unsubscribe":
			if cmd.Topic != "" {
				c.hub.Leave(c, cmd.Topic)
				c.logger.Debug().Str("topic", cmd.Topic).Msg("Client unsubscribed.")
			}
		default:
			c.logger.Debug().Str("action", cmd.Action).Msg("Ignoring unknown client command.")
		}
	}
}

// writePump drains the send buffer to the connection and keeps the session
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

// ServeWS returns an HTTP handler that upgrades requests and registers the
// resulting clients with the hub.
func ServeWS(hub *Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Client authentication is out of scope for the relay; the hub
		// accepts any origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn().Err(err).Msg("WebSocket upgrade failed.")
			return
		}
		client := newClient(hub, conn, hub.logger)
		hub.Register(client)
		go client.writePump()
		go client.readPump()
	}
}
