// Package stream pushes accepted batches to live WebSocket subscribers, the
// feed behind map views that follow a device in real time.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/metrics"
	"github.com/overland-tools/overlandd/internal/app/system"
	"github.com/overland-tools/overlandd/pkg/logger"
)

var _ system.Service = (*Hub)(nil)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	clientBuffer = 16
	maxInbound   = 512
)

// event is the wire shape pushed to subscribers.
type event struct {
	ID        string          `json:"id"`
	TS        string          `json:"ts"`
	DeviceID  string          `json:"device_id,omitempty"`
	Locations int             `json:"locations"`
	Payload   json.RawMessage `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks subscribers and fans broadcasts out to them. Slow subscribers
// are evicted rather than allowed to backpressure the ingest path.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	running bool
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("stream")
	}
	return &Hub{
		log: log.Named("stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// subscribers authenticate with the upload token; origin alone
			// grants nothing
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string { return "stream-hub" }

func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	h.log.Info("stream hub started")
	return nil
}

// Stop disconnects every subscriber and rejects new ones.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.running = false
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		metrics.StreamClientDisconnected()
	}
	h.log.Info("stream hub stopped")
	return nil
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast pushes one accepted batch to every subscriber. A subscriber whose
// buffer is full is dropped.
func (h *Hub) Broadcast(rec location.Record) {
	msg, err := json.Marshal(event{
		ID:        rec.ID,
		TS:        rec.ReceivedAt.UTC().Format(time.RFC3339Nano),
		DeviceID:  rec.DeviceID,
		Locations: rec.Locations,
		Payload:   rec.Payload,
	})
	if err != nil {
		h.log.WithError(err).Warn("marshal stream event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			metrics.StreamClientDisconnected()
			metrics.RecordStreamDrop()
			h.log.Warn("slow stream subscriber dropped")
		}
	}
}

// Subscribe upgrades the request to a WebSocket and registers the subscriber.
// Authentication happens before this is called.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	if !h.register(c) {
		// Stop won the race between the pre-upgrade check and registration;
		// nobody would ever close this client's channel.
		conn.Close()
		return
	}
	metrics.StreamClientConnected()

	go h.writePump(c)
	go h.readPump(c)
}

// register adds the client unless the hub stopped since the pre-upgrade
// check.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if ok {
		close(c.send)
		metrics.StreamClientDisconnected()
	}
}

// readPump discards inbound frames and watches for disconnect. Subscribers
// only listen; inbound data is bounded and ignored.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
