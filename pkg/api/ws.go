package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSHub fans inbound envelopes out to connected websocket clients. It is a
// live tap for debugging and dashboards; a slow client gets dropped, never
// buffered indefinitely.
type WSHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan message.Envelope
}

// NewWSHub creates an empty hub.
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*websocket.Conn]chan message.Envelope)}
}

// Broadcast hands one envelope to every connected client. Subscribed to the
// event bus.
func (h *WSHub) Broadcast(env message.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- env:
		default:
			logger.WarnC("api.ws", "Dropping slow websocket client")
			delete(h.clients, conn)
			close(ch)
		}
	}
}

// ServeHTTP upgrades the request and streams envelopes until the client goes
// away.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := make(chan message.Envelope, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	// Reader goroutine detects disconnects; inbound frames are ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()

	for env := range ch {
		if err := conn.WriteJSON(env); err != nil {
			h.remove(conn)
			return
		}
	}
	conn.Close()
}

func (h *WSHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

// Close disconnects every client.
func (h *WSHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		delete(h.clients, conn)
		close(ch)
		conn.Close()
	}
}
