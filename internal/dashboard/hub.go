package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendBuffer is the per-client outbound queue. A client that cannot
	// keep up is dropped rather than back-pressuring the call.
	sendBuffer = 64

	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// CommandHandler receives client commands. It is swapped per call by the
// supervisor; commands arriving with no handler installed are ignored.
type CommandHandler func(cmd Command)

// StatusFunc produces the current status snapshot for new clients.
type StatusFunc func() Status

// Hub fans events out to all connected dashboard clients and routes
// their commands to the active call.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	clients   map[*client]struct{}
	onCommand CommandHandler
	statusFn  StatusFunc
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates the hub. The dashboard is LAN-facing behind the API's
// IP allowlist, so cross-origin upgrades are accepted.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With("component", "dashboard"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// SetStatusFunc installs the snapshot provider sent to new clients.
func (h *Hub) SetStatusFunc(fn StatusFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statusFn = fn
}

// SetCommandHandler installs the handler for client commands. Pass nil
// to detach (no call active).
func (h *Hub) SetCommandHandler(fn CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCommand = fn
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades one dashboard connection and pumps it until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	statusFn := h.statusFn
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("dashboard client connected", "remote", r.RemoteAddr, "clients", n)

	// New clients get the current state before any incremental events.
	if statusFn != nil {
		if data, err := json.Marshal(statusFn()); err == nil {
			c.send <- data
		}
	}

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast sends one event to every connected client. Best effort: a
// client with a full send buffer is disconnected.
func (h *Hub) Broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshaling dashboard event", "error", err)
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow dashboard client", "remote", c.conn.RemoteAddr())
		c.conn.Close()
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.logger.Debug("unparseable dashboard command", "error", err)
			continue
		}

		h.mu.Lock()
		handler := h.onCommand
		h.mu.Unlock()
		if handler != nil {
			handler(cmd)
		} else {
			h.logger.Debug("dashboard command with no active call", "command", cmd.Type)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	c.conn.Close()
	h.logger.Info("dashboard client disconnected", "clients", n)
}
