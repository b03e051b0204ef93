package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/reporter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon serves the local UI only.
		return true
	},
}

// Event types broadcast to connected UI clients.
const (
	EventSyncStarted    = "sync.started"
	EventSyncCompleted  = "sync.completed"
	EventSyncFailed     = "sync.failed"
	EventQueueEnqueued  = "queue.enqueued"
	EventQueueDiscarded = "queue.discarded"
)

// Envelope wraps all websocket messages.
type Envelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// Client is one connected UI client.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub maintains active client connections and broadcasts sync events to
// them. It implements reporter.Notifier, making it the daemon's toast
// channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Notify implements reporter.Notifier by broadcasting the aggregate batch
// notification.
func (h *Hub) Notify(level reporter.Level, message string) {
	eventType := EventSyncCompleted
	if level == reporter.LevelError {
		eventType = EventSyncFailed
	}
	h.Broadcast(eventType, map[string]any{"message": message})
}

// Broadcast sends an event to every connected client. Clients whose send
// buffer is full are dropped.
func (h *Hub) Broadcast(eventType string, data map[string]any) {
	envelope := Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal websocket envelope", err, nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		select {
		case client.send <- payload:
		default:
			close(client.send)
			delete(h.clients, id)
		}
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("Websocket upgrade failed", err, nil)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()
	logging.Debug("Websocket client connected", logging.Fields{"id": client.id, "total": total})

	go client.writeLoop()
	go client.readLoop()
}

// writeLoop pushes broadcast payloads to the peer.
func (c *Client) writeLoop() {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// readLoop discards inbound messages and unregisters on close.
func (c *Client) readLoop() {
	defer func() {
		c.hub.remove(c.id)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[id]; ok {
		close(client.send)
		delete(h.clients, id)
	}
}
