package dlq

import (
	"context"
	"sort"
	"sync"
	"time"

	"hookrelay/pkg/models"
)

// MemoryRepository backs single-process deployments and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]models.DeadLetterEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]models.DeadLetterEntry)}
}

func (r *MemoryRepository) Insert(ctx context.Context, entry models.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ID] = entry
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (models.DeadLetterEntry, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok, nil
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]models.DeadLetterEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]models.DeadLetterEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if filter.Source != "" && entry.Source != filter.Source {
			continue
		}
		if filter.TargetAgent != "" && entry.TargetAgent != filter.TargetAgent {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FailedAt.After(entries[j].FailedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= int64(len(entries)) {
			return nil, nil
		}
		entries = entries[filter.Offset:]
	}
	if filter.Limit > 0 && int64(len(entries)) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

func (r *MemoryRepository) MarkReplayed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return errNotFound(id)
	}
	entry.ReplayedAt = &at
	r.entries[id] = entry
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}

func (r *MemoryRepository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.entries)), nil
}
