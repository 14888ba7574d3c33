package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/eneverre/eneverre/internal/events"
)

// MessageType is the type of a websocket message
type MessageType string

const (
	MessageTypeControl       MessageType = "control_event"
	MessageTypeConfigChanged MessageType = "config_changed"
	MessageTypePing          MessageType = "ping"
	MessageTypePong          MessageType = "pong"
	MessageTypeSubscribe     MessageType = "subscribe"
	MessageTypeUnsubscribe   MessageType = "unsubscribe"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Message is a websocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Subscriber is the part of the event bus the hub listens on
type Subscriber interface {
	Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error)
}

// Client is one websocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]bool // camera ids, "*" for all
}

func (c *Client) wants(cameraID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions["*"] || c.subscriptions[cameraID]
}

// Hub fans control events out to websocket clients
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHub creates a hub. Origins restricts browser connections; an empty
// list accepts any origin.
func NewHub(origins []string) *Hub {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "websocket-hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowed) == 0 || allowed[origin] || allowed["*"]
		},
	}
	return h
}

// Run registers and unregisters clients until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client connected", "total_clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", "total_clients", n)
		}
	}
}

// Attach forwards control events and config changes from the bus
func (h *Hub) Attach(bus Subscriber) error {
	if _, err := bus.Subscribe(events.SubjectAllCameras, func(msg *nats.Msg) {
		var ev events.ControlEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			h.logger.Warn("Dropping malformed control event", "subject", msg.Subject, "error", err)
			return
		}
		h.BroadcastToCamera(ev.CameraID, Message{Type: MessageTypeControl, Data: ev})
	}); err != nil {
		return err
	}

	_, err := bus.Subscribe(events.SubjectConfigChange, func(msg *nats.Msg) {
		var change events.ConfigChange
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			return
		}
		h.Broadcast(Message{Type: MessageTypeConfigChanged, Data: change})
	})
	return err
}

// Broadcast sends a message to every client
func (h *Hub) Broadcast(msg Message) {
	h.BroadcastToCamera("", msg)
}

// BroadcastToCamera sends a message to clients subscribed to cameraID.
// An empty cameraID reaches everyone.
func (h *Hub) BroadcastToCamera(cameraID string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if cameraID != "" && !c.wants(cameraID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Client buffer full, dropping message")
		}
	}
}

// sendTo queues data for one client if it is still registered
func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and starts the client pumps
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	c := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: map[string]bool{"*": true},
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage applies ping and subscription requests from the client
func (c *Client) handleMessage(data []byte) {
	var msg struct {
		Type MessageType `json:"type"`
		Data []string    `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Type {
	case MessageTypePing:
		if out, err := json.Marshal(Message{Type: MessageTypePong, Timestamp: time.Now()}); err == nil {
			c.hub.sendTo(c, out)
		}

	case MessageTypeSubscribe:
		c.mu.Lock()
		// an explicit subscription narrows the default "everything"
		delete(c.subscriptions, "*")
		for _, id := range msg.Data {
			c.subscriptions[id] = true
		}
		c.mu.Unlock()

	case MessageTypeUnsubscribe:
		c.mu.Lock()
		for _, id := range msg.Data {
			delete(c.subscriptions, id)
		}
		c.mu.Unlock()
	}
}
