// Package memstore provides an in-memory meeting.Store used in development
// mode and tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/voiceloop/voiceloop/meeting"
)

// Store is a map-backed meeting.Store. Guarded transitions are applied
// under the store lock, giving the same conditional-update semantics as the
// SQL implementation.
type Store struct {
	mu       sync.RWMutex
	meetings map[string]*meeting.Meeting
	agents   map[string]*meeting.Agent
}

// New creates an empty store.
func New() *Store {
	return &Store{
		meetings: make(map[string]*meeting.Meeting),
		agents:   make(map[string]*meeting.Agent),
	}
}

// PutMeeting inserts or replaces a meeting record.
func (s *Store) PutMeeting(m *meeting.Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	s.meetings[cp.ID] = &cp
}

// PutAgent inserts or replaces an agent record.
func (s *Store) PutAgent(a *meeting.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[cp.ID] = &cp
}

func (s *Store) Meeting(ctx context.Context, id string) (*meeting.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, meeting.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) Agent(ctx context.Context, id string) (*meeting.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, meeting.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) TransitionFrom(ctx context.Context, id string, from, to meeting.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return false, meeting.ErrNotFound
	}
	if m.Status != from {
		return false, nil
	}
	m.Status = to
	m.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) TransitionUnless(ctx context.Context, id string, to meeting.Status, deny ...meeting.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return false, meeting.ErrNotFound
	}
	for _, d := range deny {
		if m.Status == d {
			return false, nil
		}
	}
	m.Status = to
	m.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) SetTranscriptURL(ctx context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return meeting.ErrNotFound
	}
	m.TranscriptURL = url
	m.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetRecordingURL(ctx context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return meeting.ErrNotFound
	}
	m.RecordingURL = url
	m.UpdatedAt = time.Now()
	return nil
}
