// Package notify pushes sync outcomes and connectivity changes to WebSocket
// clients. The Hub implements sync.Notifier so the scheduler can publish
// directly into it.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/coder/websocket"

	"github.com/emirbensusan/lotastro-sync/internal/netstatus"
	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

// Event types.
const (
	EventHello   = "hello"
	EventSync    = "sync"
	EventNetwork = "network"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// Event is one message sent to clients.
type Event struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Hub tracks connected WebSocket clients and broadcasts events to them.
type Hub struct {
	logger  *slog.Logger
	events  chan Event
	origins []string

	mu      stdsync.RWMutex
	clients map[*websocket.Conn]struct{}

	nowFunc func() time.Time
}

// NewHub returns a hub. origins lists accepted Origin patterns; empty means
// same-origin only.
func NewHub(logger *slog.Logger, origins ...string) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Hub{
		logger:  logger,
		events:  make(chan Event, eventBuffer),
		origins: origins,
		clients: make(map[*websocket.Conn]struct{}),
		nowFunc: time.Now,
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Publish queues an event for broadcast. Drops the event when the buffer is
// full.
func (h *Hub) Publish(eventType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("encoding event failed", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}

	ev := Event{Type: eventType, At: h.nowFunc(), Data: raw}

	select {
	case h.events <- ev:
	default:
		h.logger.Warn("event buffer full, dropping event", slog.String("type", eventType))
	}
}

// Notify implements sync.Notifier.
func (h *Hub) Notify(_ context.Context, n sync.Notification) {
	h.Publish(EventSync, n)
}

// WatchNetwork publishes every status received on updates until ctx is
// canceled or updates is closed. Pass the channel from Monitor.Subscribe.
func (h *Hub) WatchNetwork(ctx context.Context, updates <-chan netstatus.Status) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-updates:
			if !ok {
				return nil
			}

			h.Publish(EventNetwork, st)
		}
	}
}

// Run broadcasts queued events until ctx is canceled, then closes every
// client connection.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("encoding event failed", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			h.logger.Debug("dropping client after write failure", slog.String("error", err.Error()))
			h.remove(c, websocket.StatusGoingAway)
		}
	}
}

// ServeHTTP upgrades the request and holds the connection until the client
// disconnects. Client messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", slog.Int("clients", count))

	defer h.remove(conn, websocket.StatusNormalClosure)

	hello, _ := json.Marshal(Event{Type: EventHello, At: h.nowFunc()})

	wctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	err = conn.Write(wctx, websocket.MessageText, hello)
	cancel()

	if err != nil {
		return
	}

	<-conn.CloseRead(r.Context()).Done()
}

func (h *Hub) remove(conn *websocket.Conn, code websocket.StatusCode) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	_ = conn.Close(code, "")
	h.logger.Debug("websocket client disconnected", slog.Int("clients", count))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.remove(c, websocket.StatusGoingAway)
	}
}
