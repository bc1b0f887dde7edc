package sessions

import (
	"context"
	"sync"

	"github.com/ensembleai/ensemble/pkg/models"
)

// MemoryStore is a thread-safe in-memory Store for tests and
// single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]models.Message),
	}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, id string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneMessages(s.sessions[id]), nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, id string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = models.CloneMessages(msgs)
	return nil
}
