package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/reconcile"
)

// ProgressStore keeps reconcile progress in Redis so a player can resume from any
// device or instance. Entries expire after ttl.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	return &ProgressStore{client: client, ttl: ttl}
}

func (s *ProgressStore) SaveProgress(ctx context.Context, key string, p reconcile.Progress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save progress %s: %w", key, err)
	}
	return nil
}

func (s *ProgressStore) LoadProgress(ctx context.Context, key string) (reconcile.Progress, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if isMiss(err) {
		return reconcile.Progress{}, domain.ErrNotFound
	}
	if err != nil {
		return reconcile.Progress{}, fmt.Errorf("load progress %s: %w", key, err)
	}
	var p reconcile.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return reconcile.Progress{}, fmt.Errorf("decode progress %s: %w", key, err)
	}
	return p, nil
}
