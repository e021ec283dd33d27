package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/callscope/backend/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	sendBuffer = 256
)

// Message is one frame sent to dashboard clients.
type Message struct {
	Type      string    `json:"type"`
	CallID    string    `json:"call_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string

	mu     sync.RWMutex
	callID string
}

func (c *client) filter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callID
}

// Hub fans live events out to websocket clients. Publish never blocks; a
// client that cannot keep up is dropped.
type Hub struct {
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
	PingInterval time.Duration
	Upgrader     websocket.Upgrader

	mu         sync.RWMutex
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan Message
	done       chan struct{}
}

func NewHub(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		Logger:       logger,
		Metrics:      m,
		PingInterval: 54 * time.Second,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    map[*client]struct{}{},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Message, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.RLock()
			all := make([]*client, 0, len(h.clients))
			for c := range h.clients {
				all = append(all, c)
			}
			h.mu.RUnlock()
			h.drop(all)
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.Metrics.StreamClients(n)
			h.Logger.Debug().Str("session_id", c.sessionID).Msg("stream client registered")
		case c := <-h.unregister:
			h.drop([]*client{c})
		case msg := <-h.broadcast:
			h.drop(h.deliver(msg))
		}
	}
}

func (h *Hub) deliver(msg Message) []*client {
	data, err := json.Marshal(msg)
	if err != nil {
		h.Logger.Error().Err(err).Str("type", msg.Type).Msg("encode stream message")
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	var stale []*client
	for c := range h.clients {
		if f := c.filter(); f != "" && msg.CallID != "" && f != msg.CallID {
			continue
		}
		select {
		case c.send <- data:
		default:
			stale = append(stale, c)
		}
	}
	return stale
}

func (h *Hub) drop(cs []*client) {
	if len(cs) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range cs {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
			h.Logger.Debug().Str("session_id", c.sessionID).Msg("stream client unregistered")
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.Metrics.StreamClients(n)
}

// Publish queues msg for every interested client.
func (h *Hub) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- msg:
	default:
		h.Logger.Warn().Str("type", msg.Type).Msg("stream broadcast buffer full, dropping message")
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request. An optional call_id query parameter limits
// the stream to one call.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		sessionID: uuid.NewString(),
		callID:    r.URL.Query().Get("call_id"),
	}
	welcome, _ := json.Marshal(Message{Type: "connected", Timestamp: time.Now().UTC(), Data: map[string]string{"session_id": c.sessionID}})
	c.send <- welcome

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Debug().Err(err).Str("session_id", c.sessionID).Msg("stream read error")
			}
			return
		}
		c.handle(data)
	}
}

// handle accepts {"type":"subscribe","call_id":"..."} and {"type":"unsubscribe"}.
func (c *client) handle(data []byte) {
	var msg struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		c.callID = msg.CallID
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		c.callID = ""
		c.mu.Unlock()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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
