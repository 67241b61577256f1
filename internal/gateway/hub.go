// Package gateway serves chart clients over websocket: each client
// subscribes to instrument keys, the hub re-broadcasts matching live_feed
// envelopes, and client subscriptions drive the upstream reference-counted
// registry — one wire subscription no matter how many charts watch a key.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"finverse/internal/feed"
	"finverse/internal/markethours"
	"finverse/internal/model"
)

// Hub manages connected websocket clients and fans inbound feed
// envelopes out to them, filtered per client subscription.
type Hub struct {
	registry *feed.Registry

	mu      sync.RWMutex
	clients map[*Client]bool

	// feedUp reports upstream liveness for the status broadcast.
	feedUp func() bool

	// Metrics hook, optional: connected client count after each change.
	OnClientCount func(n int)
}

// NewHub creates a hub that acquires upstream subscriptions on registry.
// feedUp may be nil.
func NewHub(registry *feed.Registry, feedUp func() bool) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[*Client]bool),
		feedUp:   feedUp,
	}
}

// HandleEnvelope re-broadcasts one upstream envelope. Wired as a
// dispatcher tap. Each client receives only the feeds it subscribed to;
// clients with no matching key receive nothing.
func (h *Hub) HandleEnvelope(env *feed.Envelope) {
	if len(env.Feeds) == 0 {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.sendFiltered(env)
	}
}

// Register adds a newly upgraded client and starts its pumps.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go c.writePump()
	go c.readPump()
}

// remove drops a client and releases every key it still held.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	for _, key := range c.heldKeys() {
		h.registry.Release(key)
	}
	close(c.send)

	log.Printf("[gateway] ws client disconnected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RunStatusBroadcast pushes a status frame to every client each interval:
// market session state and upstream liveness. Blocks until ctx ends.
func (h *Hub) RunStatusBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			up := true
			if h.feedUp != nil {
				up = h.feedUp()
			}
			frame, _ := json.Marshal(map[string]interface{}{
				"type":         "status",
				"marketOpen":   markethours.IsMarketOpen(now),
				"marketStatus": markethours.StatusString(now),
				"feedUp":       up,
				"ts":           now.UnixMilli(),
			})

			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe binds a client to key, acquiring the upstream subscription on
// the client's first interest in it.
func (h *Hub) subscribe(c *Client, key string) {
	if c.addKey(model.NormalizeKey(key)) {
		h.registry.Acquire(key)
	}
}

// unsubscribe unbinds a client from key; the upstream subscription is
// released only if the client actually held it.
func (h *Hub) unsubscribe(c *Client, key string) {
	if c.removeKey(model.NormalizeKey(key)) {
		h.registry.Release(key)
	}
}
