// Package trade: WebSocket hub for real-time settlement events.
package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/pair"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// subscription filters the events a client receives. Empty fields match
// everything.
type subscription struct {
	pair    model.PairKey
	account string
}

func (s subscription) matches(ev model.Event) bool {
	if s.pair != (model.PairKey{}) && s.pair != ev.Pair {
		return false
	}
	return s.account == "" || s.account == ev.Account
}

type client struct {
	conn *websocket.Conn
	sub  subscription
	send chan []byte
}

// WSHub fans engine events out to WebSocket clients. It is an engine
// event sink: Emit never blocks, and events are dropped when the hub is
// saturated.
type WSHub struct {
	clients    map[*client]bool
	broadcast  chan model.Event
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      atomic.Int64
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan model.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop and returns when ctx is done. Must
// be called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.count.Add(1)
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "total", len(h.clients))

		case c := <-h.unregister:
			h.drop(c)

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("ws marshal failed", "event_id", ev.ID, "error", err)
				continue
			}
			for c := range h.clients {
				if !c.sub.matches(ev) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Slow client; disconnect rather than stall the hub.
					h.drop(c)
				}
			}

		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *WSHub) drop(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.count.Add(-1)
		metrics.WebSocketClients.Dec()
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	return int(h.count.Load())
}

// Emit queues an event for broadcast.
func (h *WSHub) Emit(_ context.Context, ev model.Event) {
	select {
	case h.broadcast <- ev:
	default:
		// Drop if buffer full to avoid blocking settlement.
		slog.Warn("ws broadcast buffer full, event dropped", "event_id", ev.ID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
// Optional ?pair=BTC_USD:USDC and ?account=alice narrow the stream.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var sub subscription
	if p := r.URL.Query().Get("pair"); p != "" {
		key, err := pair.ParseKey(p)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sub.pair = key
	}
	sub.account = r.URL.Query().Get("account")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, sub: sub, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump keeps the connection alive and detects disconnects.
func (h *WSHub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of c.conn. It pings through proxies and
// closes the connection once the hub drops the client.
func (h *WSHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
