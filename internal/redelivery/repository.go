package redelivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"hookrelay/internal/constants"
	"hookrelay/pkg/models"
)

// Repository is the retry table. Entries are keyed by delivery ID and live
// until the delivery succeeds or dead-letters.
type Repository interface {
	Save(ctx context.Context, ev models.RetryableEvent) error
	Get(ctx context.Context, id string) (models.RetryableEvent, bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.RetryableEvent, error)
	Count(ctx context.Context) (int, error)
}

// RedisRepository keeps the retry table in a single Redis hash so listing
// and counting are one command each.
type RedisRepository struct {
	client *redis.Client
	key    string
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
		key:    constants.CacheKeyPrefixRetry + "table",
	}
}

func (r *RedisRepository) Save(ctx context.Context, ev models.RetryableEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal retryable event: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, ev.ID, raw).Err(); err != nil {
		return fmt.Errorf("redis HSET failed: %w", err)
	}
	return nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (models.RetryableEvent, bool, error) {
	var ev models.RetryableEvent

	raw, err := r.client.HGet(ctx, r.key, id).Bytes()
	if err == redis.Nil {
		return ev, false, nil
	}
	if err != nil {
		return ev, false, fmt.Errorf("redis HGET failed: %w", err)
	}

	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, false, fmt.Errorf("failed to unmarshal retryable event %s: %w", id, err)
	}
	return ev, true, nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("redis HDEL failed: %w", err)
	}
	return nil
}

func (r *RedisRepository) List(ctx context.Context) ([]models.RetryableEvent, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL failed: %w", err)
	}

	events := make([]models.RetryableEvent, 0, len(raw))
	for id, value := range raw {
		var ev models.RetryableEvent
		if err := json.Unmarshal([]byte(value), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retryable event %s: %w", id, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r *RedisRepository) Count(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis HLEN failed: %w", err)
	}
	return int(n), nil
}

// MemoryRepository backs single-process deployments and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	events map[string]models.RetryableEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{events: make(map[string]models.RetryableEvent)}
}

func (r *MemoryRepository) Save(ctx context.Context, ev models.RetryableEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[ev.ID] = ev
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (models.RetryableEvent, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.events[id]
	return ev, ok, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, id)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]models.RetryableEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make([]models.RetryableEvent, 0, len(r.events))
	for _, ev := range r.events {
		events = append(events, ev)
	}
	return events, nil
}

func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events), nil
}
