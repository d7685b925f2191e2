package session

import (
	"sync"
	"time"
)

// Registry tracks which listeners are currently present in a session
// with thread-safe access.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string]time.Time
}

// NewRegistry creates a new listener registry.
func NewRegistry() *Registry {
	return &Registry{
		listeners: make(map[string]time.Time),
	}
}

// Join marks a listener as present. Returns false if they were already in.
func (r *Registry) Join(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listeners[userID]; ok {
		return false
	}
	r.listeners[userID] = time.Now()
	return true
}

// Leave removes a listener. Returns false if they were not present.
func (r *Registry) Leave(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listeners[userID]; !ok {
		return false
	}
	delete(r.listeners, userID)
	return true
}

// Contains reports whether a listener is present.
func (r *Registry) Contains(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.listeners[userID]
	return ok
}

// IDs returns all present listener IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of present listeners.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
