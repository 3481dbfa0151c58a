package redelivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/logger"
	hrerrors "hookrelay/pkg/errors"
	"hookrelay/pkg/models"
)

type stubSink struct {
	mu      sync.Mutex
	entries []models.DeadLetterEntry
	err     error
}

func (s *stubSink) Push(ctx context.Context, entry models.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

type stubRedeliverer struct {
	mu       sync.Mutex
	attempts []models.Delivery
	err      error
}

func (r *stubRedeliverer) Redeliver(ctx context.Context, d models.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, d)
	return r.err
}

func noJitterPolicy() models.RetryPolicy {
	return models.RetryPolicy{
		MaxAttempts:     3,
		BackoffStrategy: models.BackoffExponential,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
	}
}

func testDelivery() models.Delivery {
	return models.Delivery{
		ID: "d-1",
		Event: models.EventData{
			ID:      "evt-1",
			Source:  "github",
			Type:    "pull_request",
			Payload: map[string]interface{}{"action": "opened"},
		},
		TargetAgent: "agentA",
		RouteID:     "r-1",
		RetryPolicy: noJitterPolicy(),
	}
}

func newTestManager(t *testing.T) (*Manager, *MemoryRepository, *stubSink, *stubRedeliverer, *fakeClock) {
	t.Helper()
	repo := NewMemoryRepository()
	sink := &stubSink{}
	redeliverer := &stubRedeliverer{}
	clock := &fakeClock{t: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)}

	mgr := NewManager(repo, sink, time.Second, logger.NopLogger())
	mgr.SetClock(clock.Now)
	mgr.SetRedeliverer(redeliverer)
	return mgr, repo, sink, redeliverer, clock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestHandleFailureCreatesRetryEntry(t *testing.T) {
	mgr, repo, _, _, clock := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.HandleFailure(ctx, testDelivery(), errors.New("boom")))

	ev, found, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, ev.AttemptCount)
	assert.Equal(t, 3, ev.MaxAttempts)
	assert.Equal(t, "boom", ev.LastError)
	// Exponential, attempt 1: base * 2^1 = 2s.
	assert.Equal(t, clock.Now().Add(2*time.Second), ev.NextRetryAt)
	assert.Equal(t, 1, mgr.RetryQueueSize(ctx))
}

func TestHandleFailureDeadLettersOnThirdFailure(t *testing.T) {
	mgr, repo, sink, _, _ := newTestManager(t)
	ctx := context.Background()
	d := testDelivery()

	require.NoError(t, mgr.HandleFailure(ctx, d, errors.New("first")))
	require.NoError(t, mgr.HandleFailure(ctx, d, errors.New("second")))
	require.NoError(t, mgr.HandleFailure(ctx, d, errors.New("third")))

	require.Len(t, sink.entries, 1)
	entry := sink.entries[0]
	assert.Equal(t, "d-1", entry.ID)
	assert.Equal(t, "evt-1", entry.EventID)
	assert.Equal(t, "github", entry.Source)
	assert.Equal(t, "agentA", entry.TargetAgent)
	assert.Equal(t, "third", entry.Error)
	assert.Equal(t, 3, entry.AttemptCount)

	_, found, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	assert.False(t, found, "dead-lettered entries leave the retry table")

	// The terminal transition is irreversible: the id is now unknown.
	err = mgr.RetryFailedEvent(ctx, "d-1")
	require.Error(t, err)
	assert.True(t, hrerrors.IsValidation(err))
}

func TestExponentialBackoffSchedule(t *testing.T) {
	mgr, repo, _, redeliverer, clock := newTestManager(t)
	redeliverer.err = errors.New("still down")
	ctx := context.Background()

	d := testDelivery()
	d.RetryPolicy.MaxAttempts = 10

	require.NoError(t, mgr.HandleFailure(ctx, d, errors.New("boom")))

	// Attempt N schedules min(base * 2^N, maxDelay).
	for attempt := 1; attempt < 6; attempt++ {
		ev, found, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, attempt, ev.AttemptCount)

		expected := time.Duration(1<<uint(attempt)) * time.Second
		if expected > 30*time.Second {
			expected = 30 * time.Second
		}
		assert.Equal(t, clock.Now().Add(expected), ev.NextRetryAt, "attempt %d", attempt)

		clock.Advance(expected)
		require.NoError(t, mgr.RetryFailedEvent(ctx, d.ID))
	}
}

func TestFixedBackoffSchedule(t *testing.T) {
	mgr, repo, _, _, clock := newTestManager(t)
	ctx := context.Background()

	d := testDelivery()
	d.RetryPolicy.BackoffStrategy = models.BackoffFixed
	d.RetryPolicy.BaseDelay = 5 * time.Second

	require.NoError(t, mgr.HandleFailure(ctx, d, errors.New("boom")))

	ev, _, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(5*time.Second), ev.NextRetryAt)
}

func TestRetryFailedEventUnknownID(t *testing.T) {
	mgr, _, _, _, _ := newTestManager(t)

	err := mgr.RetryFailedEvent(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, hrerrors.IsValidation(err))
}

func TestRetryFailedEventNotDue(t *testing.T) {
	mgr, _, _, redeliverer, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.HandleFailure(ctx, testDelivery(), errors.New("boom")))

	err := mgr.RetryFailedEvent(ctx, "d-1")
	require.Error(t, err)
	assert.True(t, hrerrors.IsValidation(err))
	assert.Empty(t, redeliverer.attempts, "early retries must not hit the transport")
}

func TestRetryFailedEventSuccessRemovesEntry(t *testing.T) {
	mgr, repo, _, redeliverer, clock := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.HandleFailure(ctx, testDelivery(), errors.New("boom")))
	clock.Advance(time.Minute)

	require.NoError(t, mgr.RetryFailedEvent(ctx, "d-1"))

	require.Len(t, redeliverer.attempts, 1)
	assert.Equal(t, "d-1", redeliverer.attempts[0].ID)
	assert.Equal(t, "agentA", redeliverer.attempts[0].TargetAgent)

	_, found, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, mgr.RetryQueueSize(ctx))
}

func TestSweepRetriesOnlyDueEntries(t *testing.T) {
	mgr, _, _, redeliverer, clock := newTestManager(t)
	ctx := context.Background()

	due := testDelivery()
	require.NoError(t, mgr.HandleFailure(ctx, due, errors.New("boom")))

	later := testDelivery()
	later.ID = "d-2"
	later.RetryPolicy.BaseDelay = time.Hour
	later.RetryPolicy.BackoffStrategy = models.BackoffFixed
	require.NoError(t, mgr.HandleFailure(ctx, later, errors.New("boom")))

	// Past d-1's 2s backoff, well short of d-2's hour.
	clock.Advance(time.Minute)
	require.NoError(t, mgr.Sweep(ctx))

	require.Len(t, redeliverer.attempts, 1)
	assert.Equal(t, "d-1", redeliverer.attempts[0].ID)
}

func TestHandleFailureDefaultsMaxAttempts(t *testing.T) {
	mgr, repo, _, _, _ := newTestManager(t)
	ctx := context.Background()

	d := testDelivery()
	d.RetryPolicy = models.RetryPolicy{BackoffStrategy: models.BackoffFixed, BaseDelay: time.Second}

	require.NoError(t, mgr.HandleFailure(ctx, d, errors.New("boom")))

	ev, _, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRetryPolicy().MaxAttempts, ev.MaxAttempts)
}
