package conversation

import (
	"context"
	"sync"
	"time"
)

// Store keeps sessions between chat turns, keyed by owner id.
type Store interface {
	// Load returns nil without error when the owner has no session.
	Load(ctx context.Context, ownerID int64) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, ownerID int64) error
	// DeleteIdle drops sessions last updated before the cutoff.
	DeleteIdle(ctx context.Context, before time.Time) (int, error)
}

// MemoryStore is a process-local session table.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]Session)}
}

func (m *MemoryStore) Load(_ context.Context, ownerID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[ownerID]
	if !ok {
		return nil, nil
	}
	cp := s.clone()
	return &cp, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.OwnerID] = s.clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, ownerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, ownerID)
	return nil
}

func (m *MemoryStore) DeleteIdle(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(before) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
