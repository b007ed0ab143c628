// Package realtime streams completed analyses to dashboards over WebSocket.
//
// Operators watching the audit log subscribe once and receive every verdict
// as it is produced instead of polling /api/history. A client narrows the
// stream by sending a Filter; the hub answers with the filter it applied or
// an error message.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rohann-max/FINSHIELD/internal/metrics"
	"github.com/rohann-max/FINSHIELD/internal/risk"
)

const (
	// MaxClients caps concurrent WebSocket connections.
	MaxClients = 10000

	sendBuffer   = 64
	maxFilterLen = 4 << 10
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Message types sent to clients.
const (
	TypeAnalysis = "analysis"
	TypeFilter   = "filter"
	TypeError    = "error"
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// Analysis is the payload streamed for each completed analysis.
type Analysis struct {
	TransactionID string  `json:"transactionId"`
	Decision      string  `json:"decision"`
	RiskScore     int     `json:"riskScore"`
	IsBot         bool    `json:"isBot"`
	AIVerdict     string  `json:"aiVerdict"`
	Amount        float64 `json:"amount"`
	Merchant      string  `json:"merchant"`
}

// Message is the envelope of everything written to a client.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Filter selects which analyses a client receives. The zero Filter passes everything.
type Filter struct {
	Decisions    []string `json:"decisions,omitempty"`
	BotsOnly     bool     `json:"botsOnly,omitempty"`
	MinRiskScore int      `json:"minRiskScore,omitempty"`
}

// Validate rejects filters that could never match.
func (f Filter) Validate() error {
	for _, d := range f.Decisions {
		if d != string(risk.DecisionApproved) && d != string(risk.DecisionBlocked) {
			return fmt.Errorf("unknown decision %q", d)
		}
	}
	if f.MinRiskScore < 0 || f.MinRiskScore > 100 {
		return fmt.Errorf("minRiskScore must be between 0 and 100")
	}
	return nil
}

// Matches reports whether a passes the filter.
func (f Filter) Matches(a *Analysis) bool {
	if len(f.Decisions) > 0 && !slices.Contains(f.Decisions, a.Decision) {
		return false
	}
	if f.BotsOnly && !a.IsBot {
		return false
	}
	return a.RiskScore >= f.MinRiskScore
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	PeakClients      int   `json:"peakClients"`
	TotalClients     int64 `json:"totalClients"`
	Published        int64 `json:"published"`
	Dropped          int64 `json:"dropped"`
}

// Client is one WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter Filter
}

func (c *Client) currentFilter() Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

type reply struct {
	client  *Client
	payload []byte
}

// Hub fans analyses out to connected clients. Only the Run loop touches
// client send channels.
type Hub struct {
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	maxClients int
	now        func() time.Time

	events     chan *Analysis
	replies    chan reply
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]struct{}
	peak    int

	published    atomic.Int64
	dropped      atomic.Int64
	totalClients atomic.Int64
}

// NewHub creates a hub. Browser connections are accepted from the serving
// host and from allowedOrigins ("*" allows any origin).
func NewHub(logger *slog.Logger, allowedOrigins ...string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		maxClients: MaxClients,
		now:        func() time.Time { return time.Now().UTC() },
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		events:     make(chan *Analysis, 256),
		replies:    make(chan reply, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		if origin == "http://"+r.Host || origin == "https://"+r.Host {
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

// Run owns the client set until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.peak = max(h.peak, len(h.clients))
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("websocket client connected", "clients", n)

		case c := <-h.unregister:
			h.drop(c)

		case r := <-h.replies:
			h.deliver(r.client, r.payload)

		case a := <-h.events:
			h.fanOut(a)
		}
	}
}

func (h *Hub) fanOut(a *Analysis) {
	payload, err := h.encode(TypeAnalysis, a)
	if err != nil {
		h.logger.Error("failed to encode analysis event", "error", err)
		return
	}
	h.published.Add(1)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.currentFilter().Matches(a) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, payload)
	}
}

// deliver queues payload for c, dropping the client if it cannot keep up.
func (h *Hub) deliver(c *Client, payload []byte) {
	h.mu.RLock()
	_, ok := h.clients[c]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
		h.logger.Warn("websocket client too slow, disconnecting")
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.ActiveWebSocketClients.Set(float64(n))
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

func (h *Hub) encode(typ string, data any) ([]byte, error) {
	return json.Marshal(Message{Type: typ, Timestamp: h.now(), Data: data})
}

// PublishAnalysis queues a completed analysis for subscribers. It never
// blocks the caller; events are dropped when the queue is full.
func (h *Hub) PublishAnalysis(a *Analysis) {
	if a == nil {
		return
	}
	select {
	case h.events <- a:
	default:
		h.dropped.Add(1)
		h.logger.Warn("realtime queue full, dropping analysis event", "transaction_id", a.TransactionID)
	}
}

// Stats returns hub statistics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		ConnectedClients: len(h.clients),
		PeakClients:      h.peak,
		TotalClients:     h.totalClients.Load(),
		Published:        h.published.Load(),
		Dropped:          h.dropped.Load(),
	}
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump applies filter updates until the connection closes.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFilterLen)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		c.reply(c.applyFilter(raw))
	}
}

// applyFilter installs the filter in raw and returns the acknowledgement.
func (c *Client) applyFilter(raw []byte) []byte {
	var f Filter
	err := json.Unmarshal(raw, &f)
	if err == nil {
		err = f.Validate()
	}
	if err != nil {
		payload, _ := c.hub.encode(TypeError, map[string]string{"message": "invalid filter: " + err.Error()})
		return payload
	}

	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
	payload, _ := c.hub.encode(TypeFilter, f)
	return payload
}

func (c *Client) reply(payload []byte) {
	select {
	case c.hub.replies <- reply{client: c, payload: payload}:
	case <-c.hub.done:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
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
