package events

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/park285/usi-supervisor/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	hubClientBuffer = 64
	hubWriteTimeout = 5 * time.Second
)

// Hub is a Sink that broadcasts events to connected websocket spectators.
// Clients may pass ?topic=<prefix> to receive only matching topics.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool

	originPatterns []string
}

type hubClient struct {
	conn   *websocket.Conn
	send   chan Event
	prefix string
}

func (c *hubClient) accepts(topic string) bool {
	return c.prefix == "" || strings.HasPrefix(topic, c.prefix)
}

func NewHub(originPatterns ...string) *Hub {
	return &Hub{
		clients:        make(map[*hubClient]struct{}),
		originPatterns: originPatterns,
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("hub_accept_failed", zap.Error(err))
		return
	}
	c := &hubClient{
		conn:   conn,
		send:   make(chan Event, hubClientBuffer),
		prefix: strings.TrimSpace(r.URL.Query().Get("topic")),
	}
	if !h.add(c) {
		_ = conn.Close(websocket.StatusGoingAway, "hub closed")
		return
	}
	defer h.remove(c)

	// Spectators never send; CloseRead handles control frames and reports disconnects.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.send:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "hub closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, hubWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				obslog.L().Debug("hub_write_failed", zap.String("topic", ev.Topic), zap.Error(err))
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// Emit queues the event for every matching client. Slow clients drop events.
func (h *Hub) Emit(_ context.Context, topic string, payload any) error {
	ev := Event{Topic: topic, Payload: payload, At: time.Now().UTC()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.accepts(topic) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			obslog.L().Debug("hub_client_lagging", zap.String("topic", topic))
		}
	}
	return nil
}

// Clients reports the number of connected spectators.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all spectators and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) add(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
