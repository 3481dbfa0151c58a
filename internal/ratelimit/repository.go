package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists rate-limit state keyed by (source, identifier). Missing or
// corrupt state must read as absent, never as an error the caller has to
// handle: the limiter treats absence as "no prior usage".
type Store interface {
	// Get unmarshals the state at key into v. Returns false when the key is
	// missing, expired, or holds data that no longer parses.
	Get(ctx context.Context, key string, v interface{}) (bool, error)
	Set(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr atomically increments the counter at key, setting ttl when the
	// key is created. Returns the new count and the remaining window.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)
	// GetCount reads a counter without mutating it. Missing or expired
	// counters return (0, 0, false, nil).
	GetCount(ctx context.Context, key string) (int64, time.Duration, bool, error)
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string, v interface{}) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis GET failed: %w", err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		// Corrupt state reads as a fresh start.
		return false, nil
	}
	return true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal rate limit state: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	remaining := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("redis INCR pipeline failed: %w", err)
	}

	ttlLeft := remaining.Val()
	if ttlLeft < 0 {
		ttlLeft = ttl
	}
	return incr.Val(), ttlLeft, nil
}

func (s *RedisStore) GetCount(ctx context.Context, key string) (int64, time.Duration, bool, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, false, fmt.Errorf("redis GET pipeline failed: %w", err)
	}

	count, err := get.Int64()
	if err != nil {
		// Missing key or a value that is not a counter.
		return 0, 0, false, nil
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = 0
	}
	return count, remaining, true, nil
}

// MemoryStore backs the limiter for single-process deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	raw       []byte
	count     int64
	expiresAt time.Time
	counter   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Get(ctx context.Context, key string, v interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.expired(entry) {
		delete(s.entries, key)
		return false, nil
	}
	if entry.counter {
		return false, nil
	}
	if err := json.Unmarshal(entry.raw, v); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal rate limit state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{raw: raw, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.expired(entry) || !entry.counter {
		entry = memoryEntry{counter: true, expiresAt: s.expiry(ttl)}
	}
	entry.count++
	s.entries[key] = entry

	remaining := time.Duration(0)
	if !entry.expiresAt.IsZero() {
		remaining = entry.expiresAt.Sub(s.now())
	}
	return entry.count, remaining, nil
}

func (s *MemoryStore) GetCount(ctx context.Context, key string) (int64, time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.expired(entry) || !entry.counter {
		return 0, 0, false, nil
	}

	remaining := time.Duration(0)
	if !entry.expiresAt.IsZero() {
		remaining = entry.expiresAt.Sub(s.now())
	}
	return entry.count, remaining, true, nil
}

func (s *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt)
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
