// Package realtime streams record mutation events to WebSocket
// subscribers at /api/realtime.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/core/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Hub maintains the set of connected clients and fans record events out
// to them.
type Hub struct {
	bus    *event.Bus
	logger *zap.Logger

	clientsMu sync.RWMutex
	clients   map[*client]bool

	upgrader websocket.Upgrader
}

// NewHub creates a hub over the given event bus
func NewHub(bus *event.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		bus:     bus,
		logger:  logger,
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Run consumes the event bus until the context is cancelled, forwarding
// every event to connected clients. Slow clients drop events rather than
// blocking the hub.
func (h *Hub) Run(ctx context.Context) {
	events, cancel := h.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(e)
		}
	}
}

// ServeHTTP upgrades the connection and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan event.Event, 64),
	}

	h.clientsMu.Lock()
	h.clients[c] = true
	h.clientsMu.Unlock()

	go c.writePump()
	go c.readPump(func() { h.remove(c) })

	h.logger.Debug("realtime client connected", zap.String("remote_addr", r.RemoteAddr))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(e event.Event) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- e:
		default:
		}
	}
}

func (h *Hub) remove(c *client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
