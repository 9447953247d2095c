package session

import (
	"errors"
	"sync"
)

// ErrDuplicateID is returned by [Registry.Insert] when a session with the same
// id is already registered.
var ErrDuplicateID = errors.New("session: duplicate session id")

// ErrNotFound is returned by [Registry.Get] and [Registry.Remove] when no
// session with the given id is registered. A lookup after teardown is a
// defined miss, never a crash.
var ErrNotFound = errors.New("session: not found")

// Registry is the process-wide map of live sessions, keyed by session id. It
// is owned by the server; entries are inserted at session start and removed as
// the final teardown step.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert registers s under its id. Returns [ErrDuplicateID] if the id is
// already taken.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		return ErrDuplicateID
	}
	r.sessions[s.ID()] = s
	return nil
}

// Get returns the session registered under id, or [ErrNotFound].
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove deletes the session registered under id. Returns [ErrNotFound] when
// no such session exists, which is harmless during concurrent teardowns.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the ids of all registered sessions in unspecified order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
