package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/por-chain/por/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one WebSocket subscriber. Clients receive nothing until they send
// a subscribe message naming an event type (or "all").
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
	log  *logger.Logger

	mu            sync.RWMutex
	subscriptions map[string]bool
}

// NewClient wraps an upgraded connection. The caller starts ReadPump and
// WritePump in their own goroutines.
func NewClient(hub *Hub, conn *websocket.Conn, log *logger.Logger) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan Message, 256),
		log:           log,
		subscriptions: make(map[string]bool),
	}
}

func (c *Client) subscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[eventType] || c.subscriptions[SubscribeAll]
}

// ReadPump reads control messages from the client until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug("invalid websocket message", "error", err)
			continue
		}
		c.handleControl(msg)
	}
}

func (c *Client) handleControl(msg Message) {
	var sub struct {
		Type string
	}
	if data, err := json.Marshal(msg.Data); err == nil {
		_ = json.Unmarshal(data, &sub)
	}
	if sub.Type == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscriptions[sub.Type] = true
	case MessageTypeUnsubscribe:
		delete(c.subscriptions, sub.Type)
	}
}

// WritePump forwards queued messages to the client and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
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
			if err := c.conn.WriteJSON(message); err != nil {
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
