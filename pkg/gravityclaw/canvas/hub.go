// Package canvas implements the Live Canvas: browser clients connect over a
// WebSocket and render the HTML widgets the agent pushes to them.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrNoClients is returned by Push when nobody is connected.
var ErrNoClients = errors.New("no live canvas clients connected")

// writeTimeout bounds a single write to one client.
const writeTimeout = 5 * time.Second

// Widget is the payload sent to canvas clients.
type Widget struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	HTML  string `json:"html"`
	CSS   string `json:"css,omitempty"`
	JS    string `json:"js,omitempty"`
}

// Hub tracks connected canvas clients and broadcasts widgets to them.
type Hub struct {
	mu            sync.Mutex
	clients       map[*websocket.Conn]struct{}
	allowedOrigin []string
	logger        *slog.Logger
}

// NewHub creates an empty hub. originPatterns are passed to the WebSocket
// handshake; empty means same-origin only.
func NewHub(originPatterns []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:       make(map[*websocket.Conn]struct{}),
		allowedOrigin: originPatterns,
		logger:        logger.With("component", "canvas"),
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. Incoming messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigin,
	})
	if err != nil {
		h.logger.Warn("failed to accept websocket", "error", err, "remote", r.RemoteAddr)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("canvas client connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Info("canvas client disconnected", "remote", r.RemoteAddr)
	}()

	// CloseRead discards incoming frames and cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
}

// Push broadcasts w to every client and returns how many received it.
func (h *Hub) Push(ctx context.Context, w Widget) (int, error) {
	if w.Type == "" {
		w.Type = "widget"
	}
	payload, err := json.Marshal(w)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if len(conns) == 0 {
		return 0, ErrNoClients
	}

	sent := 0
	for _, c := range conns {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.Write(wctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			h.logger.Debug("canvas write failed", "error", err)
			continue
		}
		sent++
	}
	h.logger.Info("widget pushed", "title", w.Title, "clients", sent)
	return sent, nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
