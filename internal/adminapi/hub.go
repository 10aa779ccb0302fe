package adminapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one notification pushed to every connected admin client: a
// probe timing out, a watchdog firing, a recovery completing.
type Event struct {
	Type      string    `json:"type"`
	Locator   string    `json:"locator,omitempty"`
	LeaseID   uint64    `json:"leaseId,omitempty"`
	RPCID     uint64    `json:"rpcId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventServerDown   = "server_down"
	EventWatchdogFire = "watchdog_fire"
	EventRecoveryDone = "recovery_done"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventHub fans cluster events out to every connected admin websocket
// client: no virtual addressing or capability routing, just broadcast.
type EventHub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// NewEventHub constructs an empty hub.
func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{clients: make(map[*client]struct{}), logger: logger}
}

// Publish broadcasts ev to every connected client. Clients whose send
// buffer is full are dropped rather than blocking the publisher.
func (h *EventHub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("adminapi: dropping slow websocket client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ServeWS upgrades the request to a websocket and registers the
// connection to receive future Publish calls until it disconnects.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("adminapi: websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Event, 32)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *EventHub) writeLoop(c *client) {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			h.removeClient(c)
			return
		}
	}
}

// readLoop discards client input but detects disconnects, matching the
// half-duplex nature of an observability feed.
func (h *EventHub) readLoop(c *client) {
	defer h.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	c.conn.Close()
}

// Notify builds an Event from its parts and publishes it. It implements
// the narrow EventPublisher interfaces that failuredetector, preparedops,
// and recovery each declare, so those packages can report events without
// importing adminapi.
func (h *EventHub) Notify(eventType, locator, detail string) {
	h.Publish(Event{Type: eventType, Locator: locator, Detail: detail, Timestamp: time.Now()})
}

// ClientCount reports the number of currently connected admin clients.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
