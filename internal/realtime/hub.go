// Package realtime streams triage session lifecycle events over WebSocket.
//
// Each client subscribes to a single session; the hub fans events out to
// that session's subscribers as the pipeline emits them. Late subscribers
// to a finished session receive its terminal snapshot from the caller
// before live streaming begins.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentinelpay/triage/internal/metrics"
)

// heartbeatInterval is how often the server pings each client and emits a
// typed heartbeat event. Variable so tests can shorten it.
var heartbeatInterval = 10 * time.Second

const (
	// idleTimeout closes connections that have not ponged.
	idleTimeout   = 30 * time.Second
	writeTimeout  = 10 * time.Second
	clientBufSize = 64
)

// EventHeartbeat is the typed keepalive event the hub emits on its own;
// all other event types come from the pipeline.
const EventHeartbeat = "heartbeat"

// MaxClients caps concurrent WebSocket connections across all sessions.
const MaxClients = 10000

// normalCloseCodes indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Event is one streamed lifecycle event. Terminal marks the last event of
// a session's stream; the hub disconnects subscribers after delivering it.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Terminal  bool      `json:"-"`
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
}

// Hub fans session events out to per-session subscribers.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*client]bool
	logger   *slog.Logger
	done     chan struct{}
	stopped  atomic.Bool

	totalEvents  atomic.Int64
	totalClients atomic.Int64
}

// NewHub creates the streaming hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*client]bool),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	<-ctx.Done()

	h.stopped.Store(true)
	close(h.done)

	h.mu.Lock()
	for _, clients := range h.sessions {
		for c := range clients {
			close(c.send)
		}
	}
	h.sessions = make(map[string]map[*client]bool)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(0)
	h.logger.Info("realtime hub stopped")
}

// Publish delivers an event to every subscriber of its session. Slow
// subscribers are dropped rather than blocking the pipeline.
func (h *Hub) Publish(event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to serialize event", "error", err)
		return
	}
	h.totalEvents.Add(1)

	h.mu.RLock()
	var slow []*client
	for c := range h.sessions[event.SessionID] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.remove(c)
		h.logger.Warn("dropped slow subscriber", "sessionId", event.SessionID)
	}

	// A terminal event ends the stream: queued events flush, then the
	// write pump sends a close frame.
	if event.Terminal {
		h.closeSession(event.SessionID)
	}
}

// closeSession disconnects every subscriber of the session. Their send
// channels are closed after any queued events, so delivery completes first.
func (h *Hub) closeSession(sessionID string) {
	h.mu.Lock()
	clients := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	for c := range clients {
		close(c.send)
	}
	h.mu.Unlock()

	if len(clients) > 0 {
		metrics.ActiveWebSocketClients.Set(float64(h.activeClients()))
		h.logger.Info("session stream closed", "sessionId", sessionID, "subscribers", len(clients))
	}
}

// SubscriberCount returns how many clients watch the given session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Stats returns hub counters for the dashboard.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	active := 0
	for _, clients := range h.sessions {
		active += len(clients)
	}
	h.mu.RUnlock()

	return map[string]any{
		"connectedClients": active,
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
	}
}

// Subscribe upgrades the request and streams the session's events. The
// replay slice is written first so late subscribers see the events emitted
// before they connected.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, sessionID string, replay []*Event) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.activeClients() >= MaxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	// The buffer always fits the whole replay so queueing it cannot block.
	c := &client{hub: h, conn: conn, sessionID: sessionID, send: make(chan []byte, clientBufSize+len(replay))}
	terminal := false
	for _, ev := range replay {
		if payload, err := json.Marshal(ev); err == nil {
			c.send <- payload
		}
		if ev.Terminal {
			terminal = true
		}
	}

	h.add(c)
	go c.writePump()
	go c.readPump()

	// A replayed terminal event means the session already finished; close
	// the stream once the replay has flushed.
	if terminal {
		h.remove(c)
	}
}

func (h *Hub) activeClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.sessions {
		n += len(clients)
	}
	return n
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	if h.sessions[c.sessionID] == nil {
		h.sessions[c.sessionID] = make(map[*client]bool)
	}
	h.sessions[c.sessionID][c] = true
	h.totalClients.Add(1)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(h.activeClients()))
	h.logger.Info("subscriber connected", "sessionId", c.sessionID)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	clients, ok := h.sessions[c.sessionID]
	if ok && clients[c] {
		delete(clients, c)
		close(c.send)
		if len(clients) == 0 {
			delete(h.sessions, c.sessionID)
		}
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		metrics.ActiveWebSocketClients.Set(float64(h.activeClients()))
		h.logger.Info("subscriber disconnected", "sessionId", c.sessionID)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) && !c.hub.stopped.Load() {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			// Ping frames keep the connection alive but are invisible to
			// JSON consumers, so a typed heartbeat goes out as well.
			hb, err := json.Marshal(&Event{Type: EventHeartbeat, SessionID: c.sessionID, Timestamp: time.Now()})
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, hb); err != nil {
				return
			}
		}
	}
}
