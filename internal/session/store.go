package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned for unknown or already-closed session handles.
// Using a closed session is a caller bug, not a retryable condition.
var ErrNotFound = errors.New("session: not found")

// Store is an explicit session registry owned by the process that serves the
// sessions. Handles are passed by value; there is no ambient lookup.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Add registers a session under its handle.
func (st *Store) Add(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID()] = s
}

// Get resolves a handle. Unknown handles fail with ErrNotFound.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Remove closes a session by dropping it from the registry. Removing an
// unknown handle fails with ErrNotFound.
func (st *Store) Remove(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(st.sessions, id)
	return nil
}

// Len reports how many sessions are live.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
