package session

import (
	"context"
	"sync"

	"promo-code-engine/internal/engine"
)

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]Session{}}
}

func (m *MemoryStore) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.CallerID]; ok {
		return ErrExists
	}
	s.Choices = append([]engine.Choice(nil), s.Choices...)
	m.sessions[s.CallerID] = s
	return nil
}

func (m *MemoryStore) Take(_ context.Context, callerID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callerID]
	if !ok {
		return Session{}, ErrNotFound
	}
	delete(m.sessions, callerID)
	return s, nil
}

func (m *MemoryStore) Discard(_ context.Context, callerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, callerID)
	return nil
}
