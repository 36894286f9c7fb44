package session

import (
	"sync"
)

// Store owns every session ledger. Sessions are fully independent; the
// store lock only guards the map itself, never a session's contents.
type Store struct {
	threshold float64

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store. threshold is the review
// confidence bound applied inside every session.
func NewStore(threshold float64) *Store {
	return &Store{
		threshold: threshold,
		sessions:  map[string]*Session{},
	}
}

// GetOrCreate returns the session for id, creating it on first use.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := newSession(id, st.threshold)
	st.sessions[id] = s
	return s
}

// Get returns the session for id if it exists.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	return s, ok
}

// Delete tears down a session. Idempotent; lifecycle policy is owned by
// the caller.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}
