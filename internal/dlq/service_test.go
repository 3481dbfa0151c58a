package dlq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/logger"
	"hookrelay/pkg/errors"
	"hookrelay/pkg/models"
)

type recordingProducer struct {
	mu        sync.Mutex
	published []models.Delivery
	topics    []string
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, d models.Delivery) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, d)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func sampleEntry(id string) models.DeadLetterEntry {
	return models.DeadLetterEntry{
		ID:           id,
		EventID:      "evt-" + id,
		Source:       "github",
		Type:         "pull_request",
		TargetAgent:  "agentA",
		Payload:      map[string]interface{}{"action": "opened"},
		Error:        "agent down",
		AttemptCount: 3,
		MaxAttempts:  3,
		FailedAt:     time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
	}
}

func newTestService(t *testing.T) (*Service, *MemoryRepository, *recordingProducer) {
	t.Helper()
	repo := NewMemoryRepository()
	producer := &recordingProducer{}
	return NewService(repo, producer, "deliveries", logger.NopLogger()), repo, producer
}

func TestPushAndGet(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Push(ctx, sampleEntry("dl-1")))

	entry, err := svc.Get(ctx, "dl-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-dl-1", entry.EventID)
	assert.Nil(t, entry.ReplayedAt)

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestPushGeneratesIDAndTimestamp(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	entry := sampleEntry("")
	entry.FailedAt = time.Time{}
	require.NoError(t, svc.Push(ctx, entry))

	entries, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].FailedAt.IsZero())
}

func TestGetUnknownID(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestListFiltersBySourceAndAgent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	github := sampleEntry("dl-1")
	stripe := sampleEntry("dl-2")
	stripe.Source = "stripe"
	stripe.TargetAgent = "billing"
	require.NoError(t, svc.Push(ctx, github))
	require.NoError(t, svc.Push(ctx, stripe))

	entries, err := svc.List(ctx, ListFilter{Source: "stripe"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dl-2", entries[0].ID)

	entries, err = svc.List(ctx, ListFilter{TargetAgent: "agentA"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dl-1", entries[0].ID)

	entries, err = svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReplayRepublishesWithFreshBudget(t *testing.T) {
	svc, _, producer := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Push(ctx, sampleEntry("dl-1")))
	require.NoError(t, svc.Replay(ctx, "dl-1"))

	require.Len(t, producer.published, 1)
	assert.Equal(t, "deliveries", producer.topics[0])

	replayed := producer.published[0]
	assert.Equal(t, "evt-dl-1", replayed.Event.ID)
	assert.Equal(t, "agentA", replayed.TargetAgent)
	assert.NotEqual(t, "dl-1", replayed.ID, "replay mints a new delivery id")
	assert.Equal(t, models.DefaultRetryPolicy(), replayed.RetryPolicy)

	// The entry remains as the historical record, marked replayed.
	entry, err := svc.Get(ctx, "dl-1")
	require.NoError(t, err)
	require.NotNil(t, entry.ReplayedAt)
}

func TestReplayUnknownID(t *testing.T) {
	svc, _, producer := newTestService(t)

	err := svc.Replay(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Empty(t, producer.published)
}

func TestPurge(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Push(ctx, sampleEntry("dl-1")))
	require.NoError(t, svc.Purge(ctx, "dl-1"))

	_, err := svc.Get(ctx, "dl-1")
	assert.True(t, errors.IsNotFound(err))

	assert.True(t, errors.IsNotFound(svc.Purge(ctx, "dl-1")))
}
