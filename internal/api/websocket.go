package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"coop-quest/internal/config"
	"coop-quest/internal/metrics"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBufferSize = 256
)

// HubConfig configures connection admission and per-connection limits.
type HubConfig struct {
	Limits         config.ResourceLimits
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Client is one WebSocket connection. Its ID is the transient connection
// identity the session manager binds to a room slot.
type Client struct {
	ID string
	ip string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
}

// enqueue never blocks; a full buffer drops the frame.
func (c *Client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub tracks live connections and implements game.Broadcaster.
type Hub struct {
	logger    *zap.Logger
	limits    config.ResourceLimits
	origins   []string
	upgrader  websocket.Upgrader
	wsLimiter *WebSocketRateLimiter

	// service is bound by NewServer; the manager needs the hub first.
	service SessionService

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a hub with connection limiting. No goroutines are started
// until a connection is accepted.
func NewHub(cfg HubConfig) *Hub {
	defaults := config.DefaultLimits()
	if cfg.Limits.MaxWSConnections <= 0 {
		cfg.Limits.MaxWSConnections = defaults.MaxWSConnections
	}
	if cfg.Limits.MaxWSPerIP <= 0 {
		cfg.Limits.MaxWSPerIP = defaults.MaxWSPerIP
	}
	if cfg.Limits.MessagesPerSecond <= 0 {
		cfg.Limits.MessagesPerSecond = defaults.MessagesPerSecond
	}
	if cfg.Limits.MessageBurst <= 0 {
		cfg.Limits.MessageBurst = defaults.MessageBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	h := &Hub{
		logger:    cfg.Logger,
		limits:    cfg.Limits,
		origins:   cfg.AllowedOrigins,
		wsLimiter: NewWebSocketRateLimiter(cfg.Limits.MaxWSPerIP),
		clients:   make(map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if IsAllowedOrigin(origin, h.origins) {
		return true
	}
	h.logger.Warn("websocket origin rejected", zap.String("origin", origin))
	metrics.RecordConnectionRejected("origin")
	return false
}

// Send pushes an event to one connection. It is called with a room lock
// held, so it must never block: unknown connections and full buffers drop.
func (h *Hub) Send(connID, event string, payload any) {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}

	b, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("encode push", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(c, b)
}

func (h *Hub) deliver(c *Client, b []byte) {
	if c.enqueue(b) {
		metrics.IncrementWSMessages("out")
		return
	}
	metrics.IncrementWSMessages("dropped")
	h.logger.Debug("send buffer full, frame dropped", zap.String("conn", c.ID))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket admits, upgrades and serves one connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.ClientCount() >= h.limits.MaxWSConnections {
		h.logger.Warn("websocket rejected: total limit reached", zap.Int("limit", h.limits.MaxWSConnections))
		metrics.RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.wsLimiter.Allow(ip) {
		h.logger.Warn("websocket rejected: per-IP limit reached", zap.String("ip", ip))
		metrics.RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		h.wsLimiter.Release(ip)
		return
	}

	c := &Client{
		ID:      uuid.NewString(),
		ip:      ip,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(h.limits.MessagesPerSecond), h.limits.MessageBurst),
	}
	if !h.register(c) {
		c.close()
		h.wsLimiter.Release(ip)
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.ID] = c
	h.wg.Add(2) // pumps
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected", zap.String("conn", c.ID), zap.String("ip", c.ip), zap.Int("total", count))
	metrics.UpdateWSConnections(count)
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	if ok {
		delete(h.clients, c.ID)
		h.wsLimiter.Release(c.ip)
	}
	count := len(h.clients)
	h.mu.Unlock()

	c.close()
	if !ok {
		return
	}
	if h.service != nil {
		h.service.Disconnect(c.ID)
	}

	h.logger.Info("client disconnected", zap.String("conn", c.ID), zap.Int("remaining", count))
	metrics.UpdateWSConnections(count)
}

// Close disconnects every client and refuses new ones, then waits for the
// pumps to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

func (h *Hub) writePump(c *Client) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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

func (h *Hub) readPump(c *Client) {
	defer h.wg.Done()
	defer h.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("conn", c.ID), zap.Error(err))
			}
			return
		}
		metrics.IncrementWSMessages("in")

		if !c.limiter.Allow() {
			metrics.RecordConnectionRejected("msg_rate")
			continue
		}
		h.dispatch(c, frame)
	}
}
