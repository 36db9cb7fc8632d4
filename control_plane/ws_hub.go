package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itskum47/fleetops/control_plane/observability"
	"github.com/itskum47/fleetops/control_plane/streaming"
)

const (
	maxWSConnections = 200
	clientBuffer     = 64
)

// EventHub fans broker events out to websocket clients. Each client has a
// bounded queue; a client that falls behind loses events rather than
// stalling publishers.
type EventHub struct {
	clients    map[*websocket.Conn]*client
	register   chan *client
	unregister chan *websocket.Conn
	events     chan streaming.Event
	done       chan struct{}
	mu         sync.RWMutex
	sub        streaming.Subscription
}

type client struct {
	conn  *websocket.Conn
	topic string
	send  chan streaming.Event
}

// NewEventHub subscribes the hub to every topic on sub.
func NewEventHub(sub streaming.Subscriber) (*EventHub, error) {
	h := &EventHub{
		clients:    make(map[*websocket.Conn]*client),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
		events:     make(chan streaming.Event, 1024),
		done:       make(chan struct{}),
	}
	s, err := sub.Subscribe(streaming.TopicAll, func(ev streaming.Event) {
		select {
		case h.events <- ev:
		default:
			log.Printf("[STREAM] Hub backlog full, dropping %s event", ev.Topic)
		}
	})
	if err != nil {
		return nil, err
	}
	h.sub = s
	return h, nil
}

// Run starts the hub's main loop.
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				c.conn.Close()
				log.Printf("[STREAM] Connection rejected: max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[c.conn] = c
			n := len(h.clients)
			h.mu.Unlock()
			observability.ConnectedStreamClients.Set(float64(n))
			go h.writePump(c)

		case conn := <-h.unregister:
			h.mu.Lock()
			if c, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(c.send)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			observability.ConnectedStreamClients.Set(float64(n))

		case ev := <-h.events:
			h.mu.RLock()
			for _, c := range h.clients {
				if c.topic != streaming.TopicAll && c.topic != ev.Topic {
					continue
				}
				select {
				case c.send <- ev:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *EventHub) writePump(c *client) {
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteJSON(ev); err != nil {
			log.Printf("[STREAM] Write error: %v", err)
			go h.Unregister(c.conn)
			// Drain until the hub closes the channel.
			for range c.send {
			}
			return
		}
	}
}

// shutdown closes all client connections and the broker subscription.
func (h *EventHub) shutdown() {
	close(h.done)
	if h.sub != nil {
		h.sub.Unsubscribe()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	log.Printf("[STREAM] Shutting down hub with %d clients", len(h.clients))
	for conn, c := range h.clients {
		close(c.send)
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*client)
	observability.ConnectedStreamClients.Set(0)
}

// Register adds a client interested in topic (or streaming.TopicAll). It
// returns false once the hub has shut down.
func (h *EventHub) Register(conn *websocket.Conn, topic string) bool {
	select {
	case h.register <- &client{conn: conn, topic: topic, send: make(chan streaming.Event, clientBuffer)}:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client connection.
func (h *EventHub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
