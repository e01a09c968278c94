package main

import (
	"encoding/json"
	"log"
	"sync"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000

	// Close code sent to a connection replaced by a newer one from the
	// same identity, so clients can tell takeover apart from a real drop.
	CloseCodeTakeover = 4001
)

// Hub manages all connected clients and the userId -> live connection map.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	registry   *Registry
	history    *History

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int

	// userID -> live connection. Weak association: freely overwritten on
	// tab takeover, never owns gameplay state.
	onlineMu sync.RWMutex
	online   map[string]*Client
}

// NewHub creates a new Hub bound to the match registry.
func NewHub(registry *Registry, history *History) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		registry:   registry,
		history:    history,
		ipConns:    make(map[string]int),
		online:     make(map[string]*Client),
	}
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.dropIdentity(client)
		}
	}
}

// BindUser points the identity map at this client. If the user already has
// a live connection, the new one silently replaces it and the old one is
// closed with a distinguishable code (tab takeover).
func (h *Hub) BindUser(c *Client) {
	uid := c.identity.UserID
	h.onlineMu.Lock()
	old := h.online[uid]
	h.online[uid] = c
	h.onlineMu.Unlock()

	if old != nil && old != c {
		log.Printf("tab takeover for user %s, closing previous connection", uid)
		old.CloseWithCode(CloseCodeTakeover, "session replaced")
		return
	}
	if h.history != nil {
		h.history.Record(FactOnline, "", uid, nil)
	}
}

// dropIdentity handles a closed connection. A disconnect from a connection
// the identity map no longer points at is stale (takeover already happened)
// and must not be misread as a real dropout.
func (h *Hub) dropIdentity(c *Client) {
	uid := c.identity.UserID
	h.onlineMu.Lock()
	current := h.online[uid]
	if current == c {
		delete(h.online, uid)
	}
	h.onlineMu.Unlock()

	if current != c {
		return // stale disconnect, suppressed
	}
	if h.history != nil {
		h.history.Record(FactOffline, "", uid, nil)
	}
	h.registry.HandleDisconnect(uid)
}

// IsOnline reports whether the user has a live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()
	_, ok := h.online[userID]
	return ok
}

// BroadcastEvent sends an event to every connected client (lobby updates).
func (h *Hub) BroadcastEvent(event string, data interface{}) {
	raw, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("marshal broadcast: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.SendRaw(raw)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
