package client

import (
	"sync"
	"sync/atomic"
	"time"
)

// QRState is the pairing code cached on a handle.
type QRState struct {
	Code  string
	Image []byte
	// Generation increases with every new code so a stale expiry timer can
	// tell it no longer owns the cached value.
	Generation uint64
	Timer      *time.Timer
}

// Reset clears the cached code and stops its timer.
func (q *QRState) Reset() {
	if q.Timer != nil {
		q.Timer.Stop()
	}
	q.Code, q.Image, q.Timer = "", nil, nil
}

// Handle owns one client and the per-session state around it.
type Handle struct {
	ID     string
	Client Client

	mu        sync.Mutex
	qr        QRState
	recovery  map[ListenerID]struct{}
	listeners map[ListenerID]struct{}

	recovering atomic.Bool
}

// NewHandle wraps c for session id.
func NewHandle(id string, c Client) *Handle {
	return &Handle{
		ID:        id,
		Client:    c,
		recovery:  make(map[ListenerID]struct{}),
		listeners: make(map[ListenerID]struct{}),
	}
}

// QR returns the cached pairing code and image.
func (h *Handle) QR() (code string, image []byte, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.qr.Code == "" {
		return "", nil, false
	}
	return h.qr.Code, h.qr.Image, true
}

// UpdateQR runs fn with exclusive access to the QR state.
func (h *Handle) UpdateQR(fn func(*QRState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.qr)
}

// TrackListener records a fan-out listener registered on the client.
func (h *Handle) TrackListener(id ListenerID) {
	h.mu.Lock()
	h.listeners[id] = struct{}{}
	h.mu.Unlock()
}

// TrackRecovery records a crash-recovery listener registered on the client.
func (h *Handle) TrackRecovery(id ListenerID) {
	h.mu.Lock()
	h.recovery[id] = struct{}{}
	h.mu.Unlock()
}

// DetachRecovery removes the crash-recovery listeners. Safe to call
// repeatedly.
func (h *Handle) DetachRecovery() {
	h.mu.Lock()
	ids := h.recovery
	h.recovery = make(map[ListenerID]struct{})
	h.mu.Unlock()

	h.off(ids)
}

// DetachAll removes every listener recorded on the handle.
func (h *Handle) DetachAll() {
	h.DetachRecovery()

	h.mu.Lock()
	ids := h.listeners
	h.listeners = make(map[ListenerID]struct{})
	h.mu.Unlock()

	h.off(ids)
}

func (h *Handle) off(ids map[ListenerID]struct{}) {
	if h.Client == nil {
		return
	}
	events := h.Client.Events()
	for id := range ids {
		events.Off(id)
	}
}

// RecoveryListeners returns the number of registered recovery listeners.
func (h *Handle) RecoveryListeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.recovery)
}

// BeginRecovery claims the handle for crash recovery. Only the first caller
// gets true.
func (h *Handle) BeginRecovery() bool {
	return h.recovering.CompareAndSwap(false, true)
}

// Recovering reports whether a recovery was claimed.
func (h *Handle) Recovering() bool {
	return h.recovering.Load()
}
