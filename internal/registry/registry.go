// Package registry holds the live session handles. An identity is "a
// session" exactly when it has an entry here.
package registry

import (
	"sort"
	"sync"

	"github.com/Iron-Ham/wamux/internal/client"
)

// Reader is the read-only view handed to API layers.
type Reader interface {
	Exists(id string) bool
	Get(id string) (*client.Handle, bool)
	IDs() []string
	Len() int
}

// Registry maps identities to handles and serializes operations per
// identity. It performs no I/O.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*client.Handle

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		handles: make(map[string]*client.Handle),
		locks:   make(map[string]*keyLock),
	}
}

// Exists reports whether id has an entry.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handles[id]
	return ok
}

// Get returns the handle for id.
func (r *Registry) Get(id string) (*client.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Put inserts or replaces the entry for id.
func (r *Registry) Put(id string, h *client.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = h
}

// Remove deletes the entry for id and returns the removed handle.
func (r *Registry) Remove(id string) (*client.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	return h, ok
}

// RemoveIf deletes the entry for id only while it still maps to h.
func (r *Registry) RemoveIf(id string, h *client.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[id] != h {
		return false
	}
	delete(r.handles, id)
	return true
}

// IDs returns a sorted snapshot of registered identities.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Snapshot returns a copy of all entries.
func (r *Registry) Snapshot() map[string]*client.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*client.Handle, len(r.handles))
	for id, h := range r.handles {
		out[id] = h
	}
	return out
}

// Lock acquires the exclusive per-identity lock and returns its release
// function. Locks for different identities are independent; idle locks are
// dropped so the table does not grow with churned identities.
func (r *Registry) Lock(id string) (unlock func()) {
	r.locksMu.Lock()
	kl, ok := r.locks[id]
	if !ok {
		kl = &keyLock{}
		r.locks[id] = kl
	}
	kl.refs++
	r.locksMu.Unlock()

	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()
			r.locksMu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(r.locks, id)
			}
			r.locksMu.Unlock()
		})
	}
}
