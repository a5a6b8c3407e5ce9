// Package medium implements the shared-medium hub the simulator uses in
// place of the physical bus. Units connect over WebSocket and every 8-byte
// frame a unit sends is relayed to every other connected unit, which is
// exactly how the electrically shared serial link behaves: everyone hears
// everyone, collisions included.
package medium

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/kons-9/shapechangeable-computer/internal/serial"
)

// Hub relays frames between connected units. It implements http.Handler and
// can be mounted on any HTTP server.
type Hub struct {
	mu     sync.Mutex
	nextID int
	units  map[int]*websocket.Conn

	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub with no connected units.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		units:  make(map[int]*websocket.Conn),
		log:    logger.With("component", "hub"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close disconnects all units and stops the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.units {
		// Ignore close errors — units may already be gone.
		_ = c.Close(websocket.StatusGoingAway, "hub shutting down")
	}
	h.cancel()
}

// ServeHTTP upgrades the request to a WebSocket connection and relays its
// frames until the unit disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = c.Close(websocket.StatusNormalClosure, "")
	}()

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.units[id] = c
	count := len(h.units)
	h.mu.Unlock()
	h.log.Info("unit connected", "unit", id, "connected", count)

	defer func() {
		h.mu.Lock()
		delete(h.units, id)
		count := len(h.units)
		h.mu.Unlock()
		h.log.Info("unit disconnected", "unit", id, "connected", count)
	}()

	for {
		typ, data, err := c.Read(h.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary || len(data) != serial.FrameSize {
			h.log.Warn("dropping malformed frame", "unit", id, "len", len(data))
			continue
		}
		h.relay(id, data)
	}
}

// relay delivers a frame to every unit except the sender. A unit whose
// connection errors is not removed here; its own read loop will notice.
func (h *Hub) relay(from int, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.units {
		if id == from {
			continue
		}
		if err := c.Write(h.ctx, websocket.MessageBinary, frame); err != nil {
			h.log.Debug("relay failed", "unit", id, "error", err)
		}
	}
}
