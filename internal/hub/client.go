package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/metrics"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Client is one websocket connection of an authenticated user. Events are
// written in the order they were enqueued.
type Client struct {
	ID          string
	UserID      string
	Username    string
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time

	hub       *Hub
	config    config.WebSocketConfig
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client. conn may be nil for a client that is only
// registered and read from Send.
func NewClient(id, userID, username string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Client{
		ID:          id,
		UserID:      userID,
		Username:    username,
		Conn:        conn,
		Send:        make(chan []byte, buf),
		ConnectedAt: time.Now().UTC(),
		hub:         hub,
		config:      cfg,
		done:        make(chan struct{}),
	}
}

// Offer enqueues data without waiting. It fails if the buffer is full or
// the client is closed.
func (c *Client) Offer(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Enqueue waits up to the configured enqueue timeout for buffer space.
// A client that stays full is closed as slow.
func (c *Client) Enqueue(data []byte) bool {
	if c.Offer(data) {
		return true
	}
	select {
	case <-c.done:
		return false
	default:
	}

	timeout := c.config.EnqueueTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.Send <- data:
		return true
	case <-c.done:
		return false
	case <-timer.C:
		metrics.SlowClientsDropped.Inc()
		l := log.L()
		l.Warn().Str(log.FieldConnectionID, c.ID).Str(log.FieldUserID, c.UserID).Msg("closing slow client")
		c.Close()
		return false
	}
}

// Close stops the write pump. Send is never closed, so concurrent
// enqueues stay safe.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump reads frames until the connection fails, then removes the client
// from the registry.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.hub.Unregister(c.ID)
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str(log.FieldConnectionID, c.ID).Msg("websocket read error")
			}
			return
		}

		handler(c, message)
	}
}

// WritePump drains Send to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
