package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/easel/internal/ratelimit"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Each started 64 KiB of a frame costs one rate limit token.
	frameCostUnit = 64 * 1024

	maxRateLimitWarnings = 1000
)

// ClientConfig holds per-connection limits.
type ClientConfig struct {
	MaxMessageSize    int64
	SendBuffer        int
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxMessageSize:    16 << 20,
		SendBuffer:        512,
		MessagesPerSecond: 100,
		MessageBurst:      200,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = def.MessagesPerSecond
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = def.MessageBurst
	}
	return c
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection. roomID and closed belong to the hub
// goroutine.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	id          string
	rateLimiter *ratelimit.Limiter

	initialRoom string
	roomID      string
	closed      bool
}

func newClient(hub *Hub, conn *websocket.Conn, initialRoom string) *Client {
	cfg := hub.clientConfig
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		id:          uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(cfg.MessagesPerSecond, cfg.MessageBurst),
		initialRoom: initialRoom,
	}
}

// ServeWs upgrades the request and hands the connection to the hub. A room
// query parameter joins that room straight away.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(hub, conn, roomID)
	if !hub.Register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func frameCost(n int) int {
	return 1 + n/frameCostUnit
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leaveHub(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.clientConfig.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.hub.logger.Debug("ignoring non-text frame", "client_id", c.id, "type", msgType)
			continue
		}

		if !c.rateLimiter.AllowN(frameCost(len(message))) {
			rateLimitWarnings++
			c.hub.metrics.FrameRateLimited()
			if rateLimitWarnings%100 == 1 {
				c.hub.logger.Warn("rate limit exceeded", "client_id", c.id, "warnings", rateLimitWarnings)
			}
			if rateLimitWarnings > maxRateLimitWarnings {
				c.hub.logger.Warn("disconnecting client for excessive rate limit violations", "client_id", c.id)
				return
			}
			continue
		}

		if !c.hub.submit(&Message{Client: c, Data: message}) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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
