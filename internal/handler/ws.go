package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"openhl7/gateway/internal/events"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	// Heartbeat interval
	pingInterval = 30 * time.Second
	// Write timeout
	writeTimeout = 10 * time.Second
	// Read deadline, extended by each pong
	pongWait = 60 * time.Second
)

// clientBuffer is the per-client queue; a client that falls this far
// behind is disconnected.
const clientBuffer = 256

// WSMessage is the envelope for every websocket message in both directions
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client is one websocket connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *WSHub

	mu    sync.RWMutex
	kinds map[events.Kind]bool // empty means all kinds

	closed bool // guarded by Hub.mu
}

// SetKinds restricts the client to the given event kinds
func (c *Client) SetKinds(kinds []events.Kind) {
	set := make(map[events.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	c.mu.Lock()
	c.kinds = set
	c.mu.Unlock()
}

// Wants reports whether the client subscribed to kind
func (c *Client) Wants(kind events.Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kinds) == 0 || c.kinds[kind]
}

// WSHub streams pipeline events to websocket clients
type WSHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With("component", "ws"),
	}
}

// Run forwards events from feed to subscribed clients until ctx ends or
// feed closes. All clients are disconnected on return.
func (h *WSHub) Run(ctx context.Context, feed <-chan events.Event) {
	defer close(h.done)
	defer h.closeAll()

	h.logger.Info("Hub started")
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Client connected", "client", client.ID, "total", total)

		case client := <-h.unregister:
			h.remove(client)

		case e, ok := <-feed:
			if !ok {
				return
			}
			h.broadcast(e)
		}
	}
}

func (h *WSHub) broadcast(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("Failed to marshal event", "kind", e.Kind, "error", err)
		return
	}
	data, err := json.Marshal(WSMessage{Type: "event", Data: payload})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.Wants(e.Kind) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Client too slow, disconnecting", "client", client.ID)
			h.remove(client)
		}
	}
}

func (h *WSHub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.closed = true
		close(client.Send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("Client disconnected", "client", client.ID, "total", total)
	}
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.closed = true
		close(client.Send)
		delete(h.clients, client)
	}
}

// GetClientCount returns the number of connected clients
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ReadPump handles incoming messages from the client
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("Client read error", "client", c.ID, "error", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			var data struct {
				Kinds []events.Kind `json:"kinds"`
			}
			if err := json.Unmarshal(msg.Data, &data); err == nil {
				c.SetKinds(data.Kinds)
				c.reply(WSMessage{Type: "subscribed", Data: msg.Data})
			}
		case "ping":
			c.reply(WSMessage{Type: "pong"})
		}
	}
}

// reply queues a message without blocking. It is a no-op once the hub
// has closed Send.
func (c *Client) reply(msg WSMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// WritePump handles outgoing messages to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler handles WebSocket connections
type WSHandler struct {
	hub *WSHub
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(hub *WSHub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleEvents upgrades the request and streams events. The optional
// kinds query parameter (comma separated) limits which kinds are sent.
func (h *WSHandler) HandleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	client := &Client{
		ID:   clientID,
		Conn: conn,
		Send: make(chan []byte, clientBuffer),
		Hub:  h.hub,
	}
	if kinds := c.Query("kinds"); kinds != "" {
		var list []events.Kind
		for _, k := range strings.Split(kinds, ",") {
			if k = strings.TrimSpace(k); k != "" {
				list = append(list, events.Kind(k))
			}
		}
		client.SetKinds(list)
	}

	welcome, _ := json.Marshal(gin.H{"client_id": clientID})
	client.reply(WSMessage{Type: "connected", Data: welcome})

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub stopped"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// GetStats returns WebSocket hub statistics
func (h *WSHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": h.hub.GetClientCount(),
	})
}
