package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itskum47/fleetops/control_plane/streaming"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; CORSMiddleware governs browser access.
		return true
	},
}

// handleStream upgrades to a websocket and forwards control-plane events.
// ?topic= narrows the stream to one topic.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		http.Error(w, "Event stream disabled", http.StatusServiceUnavailable)
		return
	}
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = streaming.TopicAll
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[STREAM] Upgrade failed: %v", err)
		return
	}

	if !a.hub.Register(conn, topic) {
		conn.Close()
		return
	}
	defer a.hub.Unregister(conn)

	// Configure ping/pong for dead client detection
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				// WriteControl may run concurrently with the hub's writer.
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	// Read pump to detect disconnections
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[STREAM] Read error: %v", err)
			}
			break
		}
	}
}
