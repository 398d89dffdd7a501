// Package ws streams session events to websocket subscribers. Each session
// has its own channel; subscribers attach to /ws/{sessionId}.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/logging"
	"github.com/Iron-Ham/wamux/internal/metrics"
)

// Message is the frame sent to subscribers.
type Message struct {
	DataType  client.Category `json:"dataType"`
	SessionID string          `json:"sessionId"`
	Data      any             `json:"data"`
}

// Options configures a Hub.
type Options struct {
	// SendBuffer is the per-subscriber queue length (default: 64).
	SendBuffer int
	// WriteTimeout bounds one frame write (default: 10s).
	WriteTimeout time.Duration
	// CheckOrigin overrides the upgrader's origin check.
	CheckOrigin func(*http.Request) bool
	Logger      *logging.Logger
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub fans frames out to the subscribers of each open session channel.
type Hub struct {
	opts     Options
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	channels map[string]map[*subscriber]struct{}
}

// NewHub creates a Hub.
func NewHub(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Hub{
		opts:     opts,
		logger:   logger.WithComponent("ws"),
		upgrader: websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		channels: make(map[string]map[*subscriber]struct{}),
	}
}

// Open makes the channel for sessionID available. Opening an open channel
// is a no-op.
func (h *Hub) Open(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[sessionID]; !ok {
		h.channels[sessionID] = make(map[*subscriber]struct{})
		h.logger.Debug("channel opened", "session_id", sessionID)
	}
}

// Close disconnects every subscriber of sessionID and removes the channel.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	subs, ok := h.channels[sessionID]
	delete(h.channels, sessionID)
	h.mu.Unlock()
	if !ok {
		return
	}
	for s := range subs {
		s.close()
	}
	metrics.WebSocketSubscribers.Sub(float64(len(subs)))
	h.logger.Debug("channel closed", "session_id", sessionID, "subscribers", len(subs))
}

// IsOpen reports whether sessionID has a channel.
func (h *Hub) IsOpen(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[sessionID]
	return ok
}

// Subscribers returns the number of subscribers of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[sessionID])
}

// Send implements events.Dispatcher. Sessions without an open channel are
// skipped. Subscribers whose queue is full are disconnected.
func (h *Hub) Send(_ context.Context, sessionID string, category client.Category, payload any) error {
	data, err := json.Marshal(Message{DataType: category, SessionID: sessionID, Data: payload})
	if err != nil {
		return fmt.Errorf("encode websocket frame: %w", err)
	}

	var slow []*subscriber
	h.mu.RLock()
	for s := range h.channels[sessionID] {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Warn("websocket subscriber too slow, disconnecting", "session_id", sessionID)
		h.remove(sessionID, s)
	}
	return nil
}

func (h *Hub) add(sessionID string, s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[sessionID]
	if !ok {
		return false
	}
	subs[s] = struct{}{}
	metrics.WebSocketSubscribers.Inc()
	return true
}

func (h *Hub) remove(sessionID string, s *subscriber) {
	h.mu.Lock()
	subs, ok := h.channels[sessionID]
	if ok {
		if _, ok = subs[s]; ok {
			delete(subs, s)
		}
	}
	h.mu.Unlock()
	if ok {
		metrics.WebSocketSubscribers.Dec()
	}
	s.close()
}

// ServeSession upgrades the request and subscribes it to sessionID until
// the peer disconnects or the channel closes. Unknown channels get 404.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !h.IsOpen(sessionID) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	s := &subscriber{conn: conn, send: make(chan []byte, h.opts.SendBuffer)}
	if !h.add(sessionID, s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
			time.Now().Add(h.opts.WriteTimeout))
		conn.Close()
		return
	}
	h.logger.Debug("websocket subscriber connected", "session_id", sessionID, "remote", r.RemoteAddr)

	go h.writePump(s)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(sessionID, s)
	h.logger.Debug("websocket subscriber disconnected", "session_id", sessionID, "remote", r.RemoteAddr)
}

func (h *Hub) writePump(s *subscriber) {
	defer s.conn.Close()
	for msg := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
		time.Now().Add(h.opts.WriteTimeout))
}
