package client

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/wamux/internal/logging"
)

// Listener handles one event.
type Listener func(Event)

// ListenerID identifies a registered listener. Zero is never issued.
type ListenerID uint64

type subscription struct {
	id       ListenerID
	listener Listener
	once     bool
}

// Emitter is a synchronous per-client event stream. Listeners run on the
// emitting goroutine in registration order; a panicking listener is logged
// and stays registered.
type Emitter struct {
	mu     sync.RWMutex
	subs   map[Category][]subscription
	nextID atomic.Uint64
	logger *logging.Logger
}

// NewEmitter creates an Emitter that reports listener panics to logger.
func NewEmitter(logger *logging.Logger) *Emitter {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Emitter{
		subs:   make(map[Category][]subscription),
		logger: logger,
	}
}

// On registers l for category.
func (e *Emitter) On(category Category, l Listener) ListenerID {
	return e.add(category, l, false)
}

// Once registers l for the next occurrence of category only.
func (e *Emitter) Once(category Category, l Listener) ListenerID {
	return e.add(category, l, true)
}

func (e *Emitter) add(category Category, l Listener, once bool) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := ListenerID(e.nextID.Add(1))
	e.subs[category] = append(e.subs[category], subscription{id: id, listener: l, once: once})
	return id
}

// Off removes a listener. It reports whether the listener was registered;
// removing twice is harmless.
func (e *Emitter) Off(id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(id)
}

func (e *Emitter) removeLocked(id ListenerID) bool {
	for category, subs := range e.subs {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			rest := make([]subscription, 0, len(subs)-1)
			rest = append(rest, subs[:i]...)
			rest = append(rest, subs[i+1:]...)
			if len(rest) == 0 {
				delete(e.subs, category)
			} else {
				e.subs[category] = rest
			}
			return true
		}
	}
	return false
}

// Emit delivers ev to the listeners registered for its category.
func (e *Emitter) Emit(ev Event) {
	category := ev.Category()

	e.mu.Lock()
	subs := make([]subscription, len(e.subs[category]))
	copy(subs, e.subs[category])
	for _, s := range subs {
		if s.once {
			e.removeLocked(s.id)
		}
	}
	e.mu.Unlock()

	for _, s := range subs {
		e.safeCall(s.listener, ev)
	}
}

func (e *Emitter) safeCall(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panicked",
				"category", string(ev.Category()),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	l(ev)
}

// ListenerCount returns the number of listeners for category.
func (e *Emitter) ListenerCount(category Category) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[category])
}

// Clear removes every listener.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = make(map[Category][]subscription)
}
