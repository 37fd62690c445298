package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// MessageType is the kind of event pushed over the optional streaming
// feed SPEC_FULL.md §4.10 adds on top of spec.md's polling endpoints —
// a subscriber watches signals/orders/pauses land without re-polling
// GET /api/signals/latest.
type MessageType string

const (
	MessageTypeSignalStored   MessageType = "signal_stored"
	MessageTypeOrderPlaced    MessageType = "order_placed"
	MessageTypeExecutorPaused MessageType = "executor_paused"
	MessageTypeSystemStatus   MessageType = "system_status"
	MessageTypeError          MessageType = "error"
	MessageTypePing           MessageType = "ping"
	MessageTypePong           MessageType = "pong"
)

// Message is one envelope sent to every subscribed client.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Client is one WebSocket connection registered with a Hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans every message passed to Broadcast out to every connected
// dashboard/bot subscriber. cmd/api registers subscribers with it but does
// not call Broadcast, so subscribers receive no signal events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop; call it once in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Info().Int("total_clients", len(h.clients)).Msg("websocket: client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Info().Int("total_clients", len(h.clients)).Msg("websocket: client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a typed message to every connected client.
func (h *Hub) Broadcast(msgType MessageType, data interface{}) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return err
	}

	msg := Message{Type: msgType, Timestamp: time.Now(), Data: dataBytes}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.broadcast <- msgBytes
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Msg("websocket: read error")
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Error().Err(err).Msg("websocket: failed to parse client message")
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.sendPong()
	default:
		log.Debug().Str("type", string(msg.Type)).Msg("websocket: received client message")
	}
}

func (c *Client) sendPong() {
	msg := Message{Type: MessageTypePong, Timestamp: time.Now(), Data: json.RawMessage(`{}`)}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- msgBytes:
	default:
	}
}

// newUpgrader builds a websocket.Upgrader that only accepts connections
// from the configured allowed origins — a missing origin header is
// rejected in production and allowed in development to let curl/wscat
// exercise the feed during local testing.
func newUpgrader(allowedOrigins []string, isProduction bool) websocket.Upgrader {
	originMap := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originMap[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				if isProduction {
					log.Warn().Str("remote_addr", r.RemoteAddr).Msg("websocket: rejected — missing origin header in production")
					return false
				}
				return true
			}

			allowed := originMap[origin]
			if !allowed {
				log.Warn().Str("origin", origin).Str("remote_addr", r.RemoteAddr).Msg("websocket: rejected — origin not in allowed list")
			}
			return allowed
		},
	}
}

// serveWs upgrades GET /api/signals/stream to a WebSocket connection and
// registers the client with hub.
func serveWs(hub *Hub, upgrader websocket.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket: failed to upgrade connection")
			return
		}

		client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
		client.hub.register <- client

		go client.writePump()
		go client.readPump()

		log.Info().Str("remote_addr", c.Request.RemoteAddr).Msg("websocket: client connected")
	}
}

// warnInsecureOrigins logs a warning for any allowed origin that looks
// unsafe for a production deployment (localhost, or non-HTTPS).
func warnInsecureOrigins(allowedOrigins []string, isProduction bool) {
	if !isProduction {
		return
	}
	for _, origin := range allowedOrigins {
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			log.Warn().Str("origin", origin).Msg("websocket: localhost origin configured in production")
		}
		if !strings.HasPrefix(origin, "https://") {
			log.Warn().Str("origin", origin).Msg("websocket: non-HTTPS origin configured in production")
		}
	}
}
