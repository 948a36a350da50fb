// Package stream fans closed candles and fired signals out to WebSocket
// clients. Delivery is best-effort: a slow client drops messages rather
// than stalling the broadcast path.
package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"cryptoscreener/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// dashboard origins vary in deployment, auth is out of band
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages WebSocket clients and broadcast fan-out.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	// Optional hooks for metrics.
	OnClientCount func(n int)
	OnDrop        func()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

// envelope is the wire format for every broadcast message.
type envelope struct {
	Type string          `json:"type"` // "candle" or "signal"
	TS   string          `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// BroadcastCandle sends a closed candle to every matching client.
func (h *Hub) BroadcastCandle(c model.Candle) {
	msg, _ := json.Marshal(envelope{
		Type: "candle",
		TS:   time.Now().UTC().Format(time.RFC3339Nano),
		Data: c.JSON(),
	})
	h.broadcast(msg, func(cl *Client) bool { return cl.wantsCandle(c) })
}

// BroadcastSignal sends a fired signal to every client.
func (h *Hub) BroadcastSignal(s model.Signal) {
	msg, _ := json.Marshal(envelope{
		Type: "signal",
		TS:   time.Now().UTC().Format(time.RFC3339Nano),
		Data: s.JSON(),
	})
	h.broadcast(msg, func(*Client) bool { return true })
}

func (h *Hub) broadcast(msg []byte, match func(*Client) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !match(client) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			// slow client, drop instead of blocking the hot path
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
}

// HandleWS upgrades the connection and registers the client. Optional
// query params filter the stream: ?symbol=BTCUSDT&timeframe=1m.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		symbol: r.URL.Query().Get("symbol"),
	}
	if tfStr := r.URL.Query().Get("timeframe"); tfStr != "" {
		if tf, err := model.ParseTimeframe(tfStr); err == nil {
			client.timeframe = tf
		}
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[stream] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go client.writePump()
	go client.readPump()
}

// removeClient drops a client from the hub.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
