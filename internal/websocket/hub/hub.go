package hub

import (
	"context"
	"sync"

	"github.com/por-chain/por/pkg/logger"
)

// Message types exchanged with subscribers. Event messages reuse the core
// event type names; subscribe/unsubscribe are control messages from clients.
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"

	// SubscribeAll receives every event type.
	SubscribeAll = "all"
)

// Message is a WebSocket frame. For event messages Type is the core event
// type and Data carries the event attributes.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub fans out oracle events to subscribed WebSocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// NewHub creates a hub. Call Run in a goroutine to start it.
func NewHub(log *logger.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("websocket client connected", "clients", h.GetClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("websocket client disconnected", "clients", h.GetClientCount())

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if !client.subscribed(message.Type) {
					continue
				}
				select {
				case client.send <- message:
				default:
					// slow consumer, drop the frame
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	h.cancel()
}

// Register queues a client for registration.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastEvent queues an event for delivery to subscribed clients. It never
// blocks; when the broadcast buffer is full the event is dropped.
func (h *Hub) BroadcastEvent(eventType string, data interface{}) {
	select {
	case h.broadcast <- Message{Type: eventType, Data: data}:
	default:
		h.log.Warn("broadcast buffer full, dropping event", "type", eventType)
	}
}
