// Package liveserver streams pipeline events to websocket clients
package liveserver

import (
	"context"
	"sync"
)

// Client is one websocket subscriber. An empty filter receives every message type.
type Client struct {
	id     string
	send   chan Message
	filter map[string]bool
	mu     sync.Mutex
	closed bool
}

// NewClient creates a client subscribed to types, or to everything when types is empty
func NewClient(id string, types ...string) *Client {
	c := &Client{
		id:   id,
		send: make(chan Message, 256),
	}
	if len(types) > 0 {
		c.filter = make(map[string]bool, len(types))
		for _, t := range types {
			c.filter[t] = true
		}
	}
	return c
}

// Wants reports whether the client subscribed to msgType
func (c *Client) Wants(msgType string) bool {
	return c.filter == nil || c.filter[msgType]
}

// Send enqueues msg without blocking; false means the client is closed or too slow
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) GetSendChan() <-chan Message {
	return c.send
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Logger is the subset of core.ILogger the hub uses
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Hub fans broadcast messages out to registered clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     Logger

	dropped int64
}

func NewHub(logger Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is cancelled, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("Client registered", "client_id", client.id, "total_clients", n)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("Client unregistered", "client_id", client.id, "total_clients", n)
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			clientList := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if client.Wants(message.Type) {
					clientList = append(clientList, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range clientList {
				if !client.Send(message) {
					// Slow consumer
					h.mu.Lock()
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						client.Close()
					}
					h.mu.Unlock()
				}
			}
		}
	}
}

// Register adds a client. After Run returns the client is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast enqueues msg; it is dropped when the hub is backed up
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		if h.logger != nil {
			h.logger.Warn("Broadcast channel full, dropping message", "type", msg.Type)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were discarded because the hub was full
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
