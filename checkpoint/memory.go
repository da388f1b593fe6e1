package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/careflow-ai/careflow/profile"
	"github.com/careflow-ai/careflow/session"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	profiles profile.Store

	mu     sync.RWMutex
	states map[string]*session.State
}

// NewMemoryStore creates an empty in-memory checkpoint store over the given
// profile store.
func NewMemoryStore(profiles profile.Store) *MemoryStore {
	return &MemoryStore{
		profiles: profiles,
		states:   make(map[string]*session.State),
	}
}

// LoadOrSeed implements Store.
func (m *MemoryStore) LoadOrSeed(ctx context.Context, sessionID, userID string) (*session.State, error) {
	m.mu.RLock()
	s, ok := m.states[sessionID]
	m.mu.RUnlock()
	if ok {
		return s.Clone(), nil
	}

	if m.profiles == nil {
		return nil, fmt.Errorf("checkpoint: seed %q: %w", sessionID, ErrNoProfile)
	}
	p, err := m.profiles.Fetch(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, fmt.Errorf("checkpoint: seed %q: user %q: %w: %w", sessionID, userID, ErrNoProfile, err)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: seed %q: %w", sessionID, err)
	}

	fresh := session.New(sessionID, userID)
	profile.SeedState(fresh, p)
	return fresh, nil
}

// Persist implements Store.
func (m *MemoryStore) Persist(_ context.Context, s *session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.SessionID] = s.Clone()
	return nil
}

// Purge implements Store.
func (m *MemoryStore) Purge(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}

// ArchiveAndPurge implements Store.
func (m *MemoryStore) ArchiveAndPurge(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	s, ok := m.states[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	if m.profiles != nil && s.UserID != "" {
		if err := m.profiles.Upsert(ctx, profile.FromState(s)); err != nil {
			return fmt.Errorf("checkpoint: archive %q: %w", sessionID, err)
		}
	}
	return m.Purge(ctx, sessionID)
}

var _ Store = (*MemoryStore)(nil)
