package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/portsweep/internal/logging"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
	maxMessageSize  = 512
	clientSendQueue = 16
)

// ProgressUpdate is one message on the progress stream.
type ProgressUpdate struct {
	JobID     string    `json:"job_id"`
	Host      string    `json:"host"`
	State     string    `json:"state"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	OpenPorts []int     `json:"open_ports,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressHub fans progress updates out to websocket clients. A nil hub
// accepts and drops every update.
type ProgressHub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

// NewProgressHub returns an empty hub.
func NewProgressHub(logger *logging.Logger) *ProgressHub {
	return &ProgressHub{
		logger: logger.WithComponent("progress"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// ServeHTTP upgrades the request and streams updates until the client goes
// away or the hub is closed.
func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade progress connection", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	send := make(chan []byte, clientSendQueue)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[conn] = send
	h.mu.Unlock()
	h.logger.Debug("Progress client connected", "remote_addr", r.RemoteAddr, "clients", h.Clients())

	go h.writePump(conn, send)
	h.readPump(conn)
}

// Broadcast queues update for every connected client. Clients whose queue
// is full miss the update.
func (h *ProgressHub) Broadcast(update ProgressUpdate) {
	if h == nil {
		return
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}
	msg, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("Failed to encode progress update", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- msg:
		default:
			h.logger.Debug("Progress client too slow, dropping update", "remote_addr", conn.RemoteAddr().String())
		}
	}
}

// Clients returns the number of connected clients.
func (h *ProgressHub) Clients() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *ProgressHub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for conn, send := range h.clients {
		close(send)
		delete(h.clients, conn)
	}
}

// remove unregisters conn unless Close already did.
func (h *ProgressHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if send, ok := h.clients[conn]; ok {
		close(send)
		delete(h.clients, conn)
	}
}

// readPump discards client messages and keeps the read deadline fresh.
func (h *ProgressHub) readPump(conn *websocket.Conn) {
	defer h.remove(conn)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Progress client closed unexpectedly", "error", err)
			}
			return
		}
	}
}

// writePump owns all writes to conn.
func (h *ProgressHub) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("Progress write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
