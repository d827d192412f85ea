package ws

import (
	"errors"
	"sync"

	"github.com/chatsync/internal/logger"
)

// Hub tracks open connections so they can be capped and closed on shutdown.
type Hub struct {
	mu       sync.Mutex
	clients  map[*Client]struct{}
	maxConns int
	closed   bool
}

func NewHub(maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 256
	}
	return &Hub{clients: make(map[*Client]struct{}), maxConns: maxConns}
}

// Register adds c; false means the limit is reached or the hub is shut down.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= h.maxConns {
		logger.Errorf("ws connection rejected %s (open=%d max=%d)", c.label, len(h.clients), h.maxConns)
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for their pumps.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

var errTooManyConnections = errors.New("ws: too many connections")
