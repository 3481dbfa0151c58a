package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/config"
	"hookrelay/internal/logger"
	hrerrors "hookrelay/pkg/errors"
)

func newTestService(t *testing.T, cfg config.RateLimitConfig) (*Service, *MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)}
	store.SetClock(clock.Now)
	svc := NewService(store, cfg, logger.NopLogger())
	svc.SetClock(clock.Now)
	return svc, store, clock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestEnforceFixedWindow(t *testing.T) {
	svc, _, clock := newTestService(t, config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  3,
		WindowSeconds: 60,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Enforce(ctx, "github", "repo-1"), "request %d should be admitted", i+1)
	}

	err := svc.Enforce(ctx, "github", "repo-1")
	require.Error(t, err)
	assert.True(t, hrerrors.IsRateLimited(err))

	// Other identifiers are unaffected.
	assert.NoError(t, svc.Enforce(ctx, "github", "repo-2"))

	// The counter expires with the window and the limit resets.
	clock.Advance(61 * time.Second)
	assert.NoError(t, svc.Enforce(ctx, "github", "repo-1"))
}

func TestEnforceFixedWindowRetryAfter(t *testing.T) {
	svc, _, _ := newTestService(t, config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  1,
		WindowSeconds: 60,
	})
	ctx := context.Background()

	require.NoError(t, svc.Enforce(ctx, "stripe", "acct"))
	err := svc.Enforce(ctx, "stripe", "acct")
	require.Error(t, err)

	retryAfter := hrerrors.RetryAfter(err)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)
}

func TestCheckDoesNotConsumeQuota(t *testing.T) {
	svc, _, _ := newTestService(t, config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  2,
		WindowSeconds: 60,
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.True(t, svc.Check(ctx, "github", "repo"))
	}
	assert.Equal(t, 2, svc.RemainingQuota(ctx, "github", "repo"))

	require.NoError(t, svc.Increment(ctx, "github", "repo"))
	assert.Equal(t, 1, svc.RemainingQuota(ctx, "github", "repo"))
	require.NoError(t, svc.Increment(ctx, "github", "repo"))
	assert.False(t, svc.Check(ctx, "github", "repo"))
	assert.Equal(t, 0, svc.RemainingQuota(ctx, "github", "repo"))
}

func TestSlidingWindowTrimsStaleEntries(t *testing.T) {
	svc, _, clock := newTestService(t, config.RateLimitConfig{
		Algorithm:     AlgorithmSlidingWindow,
		DefaultLimit:  2,
		WindowSeconds: 60,
	})
	ctx := context.Background()

	allowed, err := svc.CheckSlidingWindow(ctx, "github", "repo", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, allowed)

	clock.Advance(30 * time.Second)
	allowed, err = svc.CheckSlidingWindow(ctx, "github", "repo", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, allowed)

	// Window is full: the first timestamp is 30s old, still inside.
	allowed, err = svc.CheckSlidingWindow(ctx, "github", "repo", time.Minute, 2)
	require.NoError(t, err)
	assert.False(t, allowed)

	// 31s later the first timestamp has aged out, freeing one slot.
	clock.Advance(31 * time.Second)
	allowed, err = svc.CheckSlidingWindow(ctx, "github", "repo", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestTokenBucketRefillCappedAtBucketSize(t *testing.T) {
	svc, _, clock := newTestService(t, config.RateLimitConfig{
		Algorithm:  AlgorithmTokenBucket,
		BucketSize: 5,
		RefillRate: 1, // one token per second
	})
	ctx := context.Background()

	// Fresh bucket starts full: 5 requests pass, the 6th does not.
	for i := 0; i < 5; i++ {
		allowed, err := svc.CheckTokenBucket(ctx, "github", "repo", 5, 1, 1)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}
	allowed, err := svc.CheckTokenBucket(ctx, "github", "repo", 5, 1, 1)
	require.NoError(t, err)
	assert.False(t, allowed)

	// A long idle period refills to the cap, not beyond it.
	clock.Advance(time.Hour)
	for i := 0; i < 5; i++ {
		allowed, err := svc.CheckTokenBucket(ctx, "github", "repo", 5, 1, 1)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d after refill", i+1)
	}
	allowed, err = svc.CheckTokenBucket(ctx, "github", "repo", 5, 1, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestTokenBucketPartialRefill(t *testing.T) {
	svc, _, clock := newTestService(t, config.RateLimitConfig{
		Algorithm:  AlgorithmTokenBucket,
		BucketSize: 2,
		RefillRate: 0.5, // one token per 2s
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := svc.CheckTokenBucket(ctx, "github", "repo", 2, 0.5, 1)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	// One second refills half a token: still not enough.
	clock.Advance(time.Second)
	allowed, err := svc.CheckTokenBucket(ctx, "github", "repo", 2, 0.5, 1)
	require.NoError(t, err)
	assert.False(t, allowed)

	// One more second completes the token.
	clock.Advance(time.Second)
	allowed, err = svc.CheckTokenBucket(ctx, "github", "repo", 2, 0.5, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestOverridePrecedence(t *testing.T) {
	svc, _, _ := newTestService(t, config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  100,
		WindowSeconds: 60,
		Overrides: map[string]config.LimitOverride{
			"github":        {Limit: 10},
			"github:repo-a": {Limit: 1},
		},
	})
	ctx := context.Background()

	// Identifier override wins over the source override.
	require.NoError(t, svc.Enforce(ctx, "github", "repo-a"))
	assert.Error(t, svc.Enforce(ctx, "github", "repo-a"))

	// Source override applies to other identifiers of that source.
	assert.Equal(t, 10, svc.RemainingQuota(ctx, "github", "repo-b"))

	// Unrelated sources use the default.
	assert.Equal(t, 100, svc.RemainingQuota(ctx, "stripe", "acct"))
}

func TestSetConfigTakesEffect(t *testing.T) {
	svc, _, _ := newTestService(t, config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  1,
		WindowSeconds: 60,
	})
	ctx := context.Background()

	require.NoError(t, svc.Enforce(ctx, "github", "repo"))
	require.Error(t, svc.Enforce(ctx, "github", "repo"))

	svc.SetConfig(config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  5,
		WindowSeconds: 60,
	})
	assert.NoError(t, svc.Enforce(ctx, "github", "repo"))
}

func TestClearResetsState(t *testing.T) {
	svc, _, _ := newTestService(t, config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  1,
		WindowSeconds: 60,
	})
	ctx := context.Background()

	require.NoError(t, svc.Enforce(ctx, "github", "repo"))
	require.Error(t, svc.Enforce(ctx, "github", "repo"))

	require.NoError(t, svc.Clear(ctx, "github", "repo"))
	assert.NoError(t, svc.Enforce(ctx, "github", "repo"))
}

func TestEnforceAllowsOnStoreError(t *testing.T) {
	svc := NewService(failingStore{}, config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  1,
		WindowSeconds: 60,
	}, logger.NopLogger())
	ctx := context.Background()

	// A broken store must not reject webhooks.
	for i := 0; i < 5; i++ {
		assert.NoError(t, svc.Enforce(ctx, "github", "repo"))
		assert.True(t, svc.Check(ctx, "github", "repo"))
	}
}

type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(ctx context.Context, key string, v interface{}) (bool, error) {
	return false, errStoreDown
}

func (failingStore) Set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	return errStoreDown
}

func (failingStore) Delete(ctx context.Context, keys ...string) error { return errStoreDown }

func (failingStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	return 0, 0, errStoreDown
}

func (failingStore) GetCount(ctx context.Context, key string) (int64, time.Duration, bool, error) {
	return 0, 0, false, errStoreDown
}
