// Package session manages the registry of active voice sessions and their
// lifecycle in response to call events.
package session

import (
	"sync"

	"github.com/voiceloop/voiceloop/core"
)

// Store is the in-memory registry of active sessions keyed by call
// identifier. It is exact, not a cache: entries leave only through Remove.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*core.VoiceSession
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*core.VoiceSession)}
}

// Create inserts the session, overwriting any prior entry for the id.
func (s *Store) Create(id string, sess *core.VoiceSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
}

// Get returns the session for the id, or nil when absent.
func (s *Store) Get(id string) *core.VoiceSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// Remove deletes the session; it is a no-op when absent.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Exists reports whether a session is registered for the id.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
