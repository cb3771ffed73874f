package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/bmsctl/internal/alert"
	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/fanout"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	"github.com/gorilla/websocket"
)

const (
	EventBatteryUpdate = "battery_update"
	EventNotification  = "notification"

	wsSendBufferSize = 32
	wsReadLimit      = 4096
)

// Event is the envelope of every websocket frame.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Feed is where websocket clients attach as live subscribers.
type Feed interface {
	Attach(sub telemetry.Subscriber) (fanout.Handle, error)
	Detach(h fanout.Handle) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub tracks websocket clients. Each client is its own fan-out subscriber
// for battery updates; notifications are broadcast by the hub, which acts
// as an alert sink.
type Hub struct {
	feed Feed
	cfg  Config
	log  logger.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

func NewHub(feed Feed, cfg Config, log logger.Logger) *Hub {
	return &Hub{
		feed:    feed,
		cfg:     cfg.withDefaults(),
		log:     log,
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify broadcasts a notification event to every connected client. Clients
// whose buffers are full miss it.
func (h *Hub) Notify(_ context.Context, s telemetry.Sample, message string) error {
	data, err := json.Marshal(Event{Event: EventNotification, Data: alert.NewNotification(s, message)})
	if err != nil {
		return errors.New().Wrap(ErrEncode, err)
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.trySend(data)
	}
	return nil
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		_ = h.feed.Detach(c.handle)
		c.Close()
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		done: make(chan struct{}),
	}

	handle, err := h.feed.Attach(c)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to attach websocket client")
		conn.Close()
		return
	}
	c.handle = handle

	if !h.register(c) {
		_ = h.feed.Detach(handle)
		c.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// register adds c unless Close already ran, which may have happened while
// the connection was being upgraded.
func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("subscriber", string(c.handle)).Int("clients", n).Msg("Websocket client connected")
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !existed {
		return
	}
	// The fan-out may already have dropped this client.
	_ = h.feed.Detach(c.handle)
	h.log.Debug().Str("subscriber", string(c.handle)).Int("clients", n).Msg("Websocket client disconnected")
}

type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	handle fanout.Handle
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// Push queues a battery update, waiting for buffer space until ctx expires.
func (c *wsClient) Push(ctx context.Context, s telemetry.Sample) error {
	data, err := json.Marshal(Event{Event: EventBatteryUpdate, Data: s})
	if err != nil {
		return errors.New().Wrap(ErrEncode, err)
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errors.New().New(ErrClientGone)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsClient) trySend(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
	}
}

// Close tears the connection down. Both pumps exit on their own.
func (c *wsClient) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Close()
	}()

	wait := c.hub.cfg.PingInterval + c.hub.cfg.WriteTimeout
	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	// Clients only listen; anything they send is discarded.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Msg("Websocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wait))
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
