package ws

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/manpreetbhatti/easel/internal/metrics"
	"github.com/manpreetbhatti/easel/internal/room"
)

const tracerName = "github.com/manpreetbhatti/easel/internal/ws"

// Hub owns room membership and runs every client event on a single
// goroutine, so room state changes are applied one at a time in arrival
// order.
type Hub struct {
	// Broadcast groups by room
	router *Router

	// Every registered connection, joined or not
	clients map[*Client]struct{}

	registry *room.Registry
	handlers map[string]handlerFunc

	// Inbound frames from clients
	inbound chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	clientConfig ClientConfig
	metrics      *metrics.Metrics
	logger       *slog.Logger
	tracer       trace.Tracer

	// guards router and clients for readers outside the hub goroutine
	mu sync.RWMutex
}

// Message is one frame read from a client.
type Message struct {
	Client *Client
	Data   []byte
}

func NewHub(registry *room.Registry, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		router:       NewRouter(),
		clients:      make(map[*Client]struct{}),
		registry:     registry,
		inbound:      make(chan *Message, 1024),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
		clientConfig: DefaultClientConfig(),
		metrics:      m,
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
	}
	h.handlers = h.eventHandlers()
	return h
}

// SetClientConfig replaces the limits applied to new connections. Call it
// before serving.
func (h *Hub) SetClientConfig(cfg ClientConfig) {
	h.clientConfig = cfg.withDefaults()
}

// Run processes registrations and client events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.addClient(ctx, client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.inbound:
			h.handleFrame(ctx, msg.Client, msg.Data)
		}
	}
}

// Register hands a new connection to the hub. It returns false once the hub
// has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) submit(msg *Message) bool {
	select {
	case h.inbound <- msg:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leaveHub(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(ctx context.Context, c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.logger.Info("client connected", "client_id", c.id, "total", total)

	if c.initialRoom != "" {
		h.join(ctx, c, c.initialRoom)
	}
}

// removeClient detaches c from its room and closes its send channel. It is
// safe to call more than once.
func (h *Hub) removeClient(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	if c.roomID != "" {
		h.leave(c)
	}

	h.mu.Lock()
	delete(h.clients, c)
	remaining := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	h.metrics.ConnectionClosed()
	h.logger.Info("client disconnected", "client_id", c.id, "remaining", remaining)
}

func (h *Hub) shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.removeClient(c)
	}
	h.logger.Info("hub stopped", "closed_clients", len(clients))
}

// join puts c in roomID's broadcast group, leaving any previous group, and
// replies with the room state.
func (h *Hub) join(ctx context.Context, c *Client, roomID string) {
	if c.roomID != roomID {
		if c.roomID != "" {
			h.leave(c)
		}
		h.mu.Lock()
		h.router.Join(roomID, c)
		members := h.router.Members(roomID)
		h.mu.Unlock()
		c.roomID = roomID

		h.logger.Info("client joined room", "client_id", c.id, "room_id", roomID, "members", members)
	}

	r := h.ensureRoom(ctx, roomID)
	h.sendTo(c, eventRoomState(r))
}

func (h *Hub) leave(c *Client) {
	roomID := c.roomID
	h.mu.Lock()
	h.router.Leave(roomID, c)
	members := h.router.Members(roomID)
	h.mu.Unlock()
	c.roomID = ""

	if r, ok := h.registry.Get(roomID); ok {
		r.SetMembers(members)
	}
	h.logger.Info("client left room", "client_id", c.id, "room_id", roomID, "remaining", members)
}

// ensureRoom fetches or creates the room and syncs its member count with the
// broadcast group, which may have outlived an evicted room.
func (h *Hub) ensureRoom(ctx context.Context, roomID string) *room.Room {
	r := h.registry.Ensure(ctx, roomID)
	r.SetMembers(h.router.Members(roomID))
	return r
}

// outbound is an encoded server event.
type outbound struct {
	event string
	frame []byte
}

func (h *Hub) sendTo(c *Client, out outbound) {
	if out.frame == nil {
		return
	}
	if c.closed {
		return
	}
	if !trySend(c, out.frame) {
		h.dropSlow([]*Client{c})
		return
	}
	h.metrics.Delivered(out.event, 1)
}

// toOthers delivers to every member of roomID except sender.
func (h *Hub) toOthers(roomID string, sender *Client, out outbound) {
	h.fanOut(roomID, sender, out)
}

// toAll delivers to every member of roomID, sender included.
func (h *Hub) toAll(roomID string, out outbound) {
	h.fanOut(roomID, nil, out)
}

func (h *Hub) fanOut(roomID string, except *Client, out outbound) {
	if out.frame == nil {
		return
	}
	delivered, slow := h.router.Broadcast(roomID, except, out.frame)
	h.metrics.Delivered(out.event, delivered)
	h.dropSlow(slow)
}

func (h *Hub) dropSlow(slow []*Client) {
	for _, c := range slow {
		h.metrics.ClientDropped()
		h.logger.Warn("client too slow, disconnecting", "client_id", c.id, "room_id", c.roomID)
		h.removeClient(c)
	}
}

// GetRoomCount returns the number of rooms with at least one connection.
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.router.groups)
}

// GetClientCount returns the number of open connections.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetActiveRooms returns the member count of every room with connections.
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.router.Rooms()
}
