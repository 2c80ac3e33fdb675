package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

const (
	writeWait  = 10 * time.Second
	clientSend = 8
)

// Hub streams status messages to websocket clients. New clients get the latest message first.
type Hub struct {
	formatter Formatter
	logger    *logx.Logger
	upgrader  websocket.Upgrader
	now       func() time.Time

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	last    []byte
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewHub(formatter Formatter, logger *logx.Logger) *Hub {
	h := &Hub{
		formatter: formatter,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now:     time.Now,
		clients: make(map[*hubClient]struct{}),
	}
	h.last, _ = json.Marshal(Cleared(h.now()))
	return h
}

func (h *Hub) Update(s pkg.Status) {
	h.broadcast(h.formatter.Message(s))
}

func (h *Hub) Clear() {
	h.broadcast(Cleared(h.now()))
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("Status encode failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow reader
			delete(h.clients, c)
			c.close()
		}
	}
}

// ServeHTTP upgrades the request and streams status until the client goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientSend)}
	h.mu.Lock()
	c.send <- h.last
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) writePump(c *hubClient) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump drains client frames so close and ping frames are processed
func (h *Hub) readPump(c *hubClient) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
