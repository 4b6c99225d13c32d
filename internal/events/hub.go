// Package events fans pipeline events out to dashboard WebSocket
// clients, grouped by tenant. Delivery is best-effort: a slow client is
// dropped rather than allowed to block the pipeline.
package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 32
)

// Hub tracks connected dashboard clients per tenant.
type Hub struct {
	token    string
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // tenantID -> clients
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(token string) *Hub {
	return &Hub{
		token: token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// RegisterRoutes mounts the events endpoint on mux.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/events", h.handleConnect)
}

// handleConnect upgrades a dashboard connection. The token rides in a
// query parameter because browsers cannot set headers on WebSocket
// dials.
func (h *Hub) handleConnect(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.URL.Query().Get("token") != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register(tenantID, c)
	slog.Debug("events client connected", "tenant_id", tenantID)

	go c.writePump()
	c.readPump()

	h.unregister(tenantID, c)
	slog.Debug("events client disconnected", "tenant_id", tenantID)
}

// Publish sends event to every client of the tenant. Clients whose send
// buffer is full are disconnected.
func (h *Hub) Publish(tenantID string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	var stale []*client
	for c := range h.clients[tenantID] {
		select {
		case c.send <- data:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		slog.Warn("dropping slow events client", "tenant_id", tenantID)
		h.unregister(tenantID, c)
	}
}

// ClientCount returns the number of connected clients for a tenant.
func (h *Hub) ClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tenantID])
}

// Close disconnects every client. Called during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for tenantID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, tenantID)
	}
}

func (h *Hub) register(tenantID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return
	}
	set, ok := h.clients[tenantID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[tenantID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(tenantID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[tenantID]
	if !ok {
		return
	}
	if _, present := set[c]; !present {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, tenantID)
	}
	close(c.send)
}

// readPump drains inbound frames. The feed is one-way; client frames
// only matter for close and pong handling.
func (c *client) readPump() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
