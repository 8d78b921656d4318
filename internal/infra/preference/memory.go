package preference

import (
	"context"
	"sync"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

// MemoryStore is a process-local store, used when no Redis URL is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	modes map[string]domain.ViewMode
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{modes: make(map[string]domain.ViewMode)}
}

func (s *MemoryStore) GetViewMode(_ context.Context, userID string) (domain.ViewMode, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modes[userID]
	return m, ok, nil
}

func (s *MemoryStore) SetViewMode(_ context.Context, userID string, mode domain.ViewMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[userID] = mode
	return nil
}
