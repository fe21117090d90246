package memory

import (
	"context"
	"sync"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/reconcile"
)

// ProgressStore keeps reconcile progress in process memory.
type ProgressStore struct {
	mu   sync.RWMutex
	data map[string]reconcile.Progress
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{data: make(map[string]reconcile.Progress)}
}

func (s *ProgressStore) SaveProgress(_ context.Context, key string, p reconcile.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = p
	return nil
}

func (s *ProgressStore) LoadProgress(_ context.Context, key string) (reconcile.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[key]
	if !ok {
		return reconcile.Progress{}, domain.ErrNotFound
	}
	return p, nil
}
