package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	"hookrelay/internal/logger"
	"hookrelay/pkg/errors"
	"hookrelay/pkg/metrics"
)

// Service is the admission controller for inbound webhooks. One of three
// algorithms is active per deployment; the sliding-window and token-bucket
// checks are also callable directly with explicit parameters for callers
// that need a different policy than the configured one.
//
// State lives in the Store behind optimistic read-then-write operations.
// Two concurrent requests on the same key may both pass a check right at
// the limit boundary; only the fixed-window path is backed by an atomic
// increment. Store failures fail open: a broken Redis must not take down
// webhook ingestion.
type Service struct {
	store  Store
	cfg    config.RateLimitConfig
	cfgMu  sync.RWMutex
	logger logger.Logger
	now    func() time.Time
}

func NewService(store Store, cfg config.RateLimitConfig, log logger.Logger) *Service {
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: log,
		now:    time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Check reports whether one more unit of work is currently admissible for
// (source, identifier). Read-only: no state is mutated.
func (s *Service) Check(ctx context.Context, source, identifier string) bool {
	limit := s.resolveLimit(source, identifier)
	if limit.Requests <= 0 {
		return true // unlimited
	}

	switch s.algorithm() {
	case AlgorithmSlidingWindow:
		count, err := s.slidingWindowCount(ctx, source, identifier, limit.Window)
		if err != nil {
			return s.allowOnError(ctx, source, err)
		}
		return count < limit.Requests

	case AlgorithmTokenBucket:
		bucketSize, refillRate := s.bucketParams(limit)
		state, err := s.loadBucket(ctx, source, identifier, bucketSize)
		if err != nil {
			return s.allowOnError(ctx, source, err)
		}
		tokens := s.refillTokens(state, bucketSize, refillRate)
		return tokens >= 1

	default:
		count, _, _, err := s.store.GetCount(ctx, s.counterKey(source, identifier))
		if err != nil {
			return s.allowOnError(ctx, source, err)
		}
		return int(count) < limit.Requests
	}
}

// Increment records one admitted unit of work. Expired windows restart
// cleanly: stale state is never treated as still blocked.
func (s *Service) Increment(ctx context.Context, source, identifier string) error {
	limit := s.resolveLimit(source, identifier)
	if limit.Requests <= 0 {
		return nil
	}

	switch s.algorithm() {
	case AlgorithmSlidingWindow:
		_, err := s.CheckSlidingWindow(ctx, source, identifier, limit.Window, math.MaxInt32)
		return err

	case AlgorithmTokenBucket:
		bucketSize, refillRate := s.bucketParams(limit)
		_, err := s.CheckTokenBucket(ctx, source, identifier, bucketSize, refillRate, 1)
		return err

	default:
		_, _, err := s.store.Incr(ctx, s.counterKey(source, identifier), limit.Window)
		return err
	}
}

// Enforce admits or rejects one unit of work, composing check and increment
// from the caller's perspective. A rejection carries the retry-after hint.
func (s *Service) Enforce(ctx context.Context, source, identifier string) error {
	limit := s.resolveLimit(source, identifier)
	if limit.Requests <= 0 {
		s.recordDecision(source, "allowed")
		return nil
	}

	switch s.algorithm() {
	case AlgorithmSlidingWindow:
		allowed, err := s.CheckSlidingWindow(ctx, source, identifier, limit.Window, limit.Requests)
		if err != nil {
			return s.enforceError(ctx, source, err)
		}
		if !allowed {
			s.recordDecision(source, "blocked")
			return errors.NewRateLimitError(limit.Window)
		}

	case AlgorithmTokenBucket:
		bucketSize, refillRate := s.bucketParams(limit)
		allowed, err := s.CheckTokenBucket(ctx, source, identifier, bucketSize, refillRate, 1)
		if err != nil {
			return s.enforceError(ctx, source, err)
		}
		if !allowed {
			s.recordDecision(source, "blocked")
			return errors.NewRateLimitError(s.timeToNextToken(refillRate))
		}

	default:
		count, ttl, err := s.store.Incr(ctx, s.counterKey(source, identifier), limit.Window)
		if err != nil {
			return s.enforceError(ctx, source, err)
		}
		if int(count) > limit.Requests {
			s.recordDecision(source, "blocked")
			retryAfter := ttl
			if retryAfter <= 0 {
				retryAfter = limit.Window
			}
			return errors.NewRateLimitError(retryAfter)
		}
	}

	s.recordDecision(source, "allowed")
	return nil
}

// RemainingQuota returns how many units of work are still admissible in the
// current window, clamped to zero. Honors override precedence.
func (s *Service) RemainingQuota(ctx context.Context, source, identifier string) int {
	limit := s.resolveLimit(source, identifier)
	if limit.Requests <= 0 {
		return math.MaxInt32
	}

	var used int
	switch s.algorithm() {
	case AlgorithmSlidingWindow:
		count, err := s.slidingWindowCount(ctx, source, identifier, limit.Window)
		if err != nil {
			return limit.Requests
		}
		used = count

	case AlgorithmTokenBucket:
		bucketSize, refillRate := s.bucketParams(limit)
		state, err := s.loadBucket(ctx, source, identifier, bucketSize)
		if err != nil {
			return limit.Requests
		}
		return clampQuota(int(s.refillTokens(state, bucketSize, refillRate)))

	default:
		count, _, _, err := s.store.GetCount(ctx, s.counterKey(source, identifier))
		if err != nil {
			return limit.Requests
		}
		used = int(count)
	}

	return clampQuota(limit.Requests - used)
}

// SetConfig replaces the rate-limit policy at runtime.
func (s *Service) SetConfig(cfg config.RateLimitConfig) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	s.logger.Infow("Rate limit config updated",
		"algorithm", cfg.Algorithm,
		"default_limit", cfg.DefaultLimit,
		"overrides", len(cfg.Overrides),
	)
}

// Clear drops all stored state for (source, identifier).
func (s *Service) Clear(ctx context.Context, source, identifier string) error {
	return s.store.Delete(ctx,
		s.counterKey(source, identifier),
		s.windowKey(source, identifier),
		s.bucketKey(source, identifier),
	)
}

// CheckSlidingWindow admits one request if fewer than limit requests were
// recorded within the trailing window. Stale timestamps are discarded before
// counting; admitted requests append their timestamp.
func (s *Service) CheckSlidingWindow(ctx context.Context, source, identifier string, window time.Duration, limit int) (bool, error) {
	key := s.windowKey(source, identifier)
	now := s.now()

	var state windowState
	if _, err := s.store.Get(ctx, key, &state); err != nil {
		return false, err
	}

	trimmed := state.Timestamps[:0]
	cutoff := now.Add(-window)
	for _, ts := range state.Timestamps {
		if ts.After(cutoff) {
			trimmed = append(trimmed, ts)
		}
	}
	state.Timestamps = trimmed

	allowed := len(state.Timestamps) < limit
	if allowed {
		state.Timestamps = append(state.Timestamps, now)
	}

	if err := s.store.Set(ctx, key, state, window); err != nil {
		return false, err
	}
	return allowed, nil
}

// CheckTokenBucket refills the bucket proportionally to the time elapsed
// since the last refill (capped at bucketSize) and admits the request if at
// least tokensRequested tokens are available, consuming them.
func (s *Service) CheckTokenBucket(ctx context.Context, source, identifier string, bucketSize int, refillPerSecond float64, tokensRequested int) (bool, error) {
	key := s.bucketKey(source, identifier)
	now := s.now()

	state, err := s.loadBucket(ctx, source, identifier, bucketSize)
	if err != nil {
		return false, err
	}

	state.Tokens = s.refillTokens(state, bucketSize, refillPerSecond)
	state.LastRefill = now

	allowed := state.Tokens >= float64(tokensRequested)
	if allowed {
		state.Tokens -= float64(tokensRequested)
	}

	ttl := bucketTTL(bucketSize, refillPerSecond)
	if err := s.store.Set(ctx, key, state, ttl); err != nil {
		return false, err
	}
	return allowed, nil
}

func (s *Service) slidingWindowCount(ctx context.Context, source, identifier string, window time.Duration) (int, error) {
	var state windowState
	if _, err := s.store.Get(ctx, s.windowKey(source, identifier), &state); err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-window)
	count := 0
	for _, ts := range state.Timestamps {
		if ts.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *Service) loadBucket(ctx context.Context, source, identifier string, bucketSize int) (bucketState, error) {
	var state bucketState
	found, err := s.store.Get(ctx, s.bucketKey(source, identifier), &state)
	if err != nil {
		return bucketState{}, err
	}
	if !found {
		// Fresh buckets start full.
		state = bucketState{Tokens: float64(bucketSize), LastRefill: s.now()}
	}
	return state, nil
}

func (s *Service) refillTokens(state bucketState, bucketSize int, refillPerSecond float64) float64 {
	elapsed := s.now().Sub(state.LastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := state.Tokens + elapsed*refillPerSecond
	if tokens > float64(bucketSize) {
		tokens = float64(bucketSize)
	}
	return tokens
}

func (s *Service) resolveLimit(source, identifier string) Limit {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	limit := Limit{
		Requests: s.cfg.DefaultLimit,
		Window:   time.Duration(s.cfg.WindowSeconds) * time.Second,
	}
	if limit.Requests == 0 {
		limit.Requests = constants.DefaultRateLimit
	}
	if limit.Window <= 0 {
		limit.Window = constants.DefaultRateLimitWindow
	}

	if override, ok := s.cfg.Overrides[source]; ok {
		applyOverride(&limit, override)
	}
	if override, ok := s.cfg.Overrides[source+":"+identifier]; ok {
		applyOverride(&limit, override)
	}

	return limit
}

func applyOverride(limit *Limit, override config.LimitOverride) {
	if override.Limit != 0 {
		limit.Requests = override.Limit
	}
	if override.WindowSeconds > 0 {
		limit.Window = time.Duration(override.WindowSeconds) * time.Second
	}
}

func (s *Service) bucketParams(limit Limit) (int, float64) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	bucketSize := s.cfg.BucketSize
	if bucketSize <= 0 {
		bucketSize = limit.Requests
	}
	refillRate := s.cfg.RefillRate
	if refillRate <= 0 {
		refillRate = float64(limit.Requests) / limit.Window.Seconds()
	}
	return bucketSize, refillRate
}

func (s *Service) algorithm() string {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	alg := strings.ToLower(s.cfg.Algorithm)
	if alg == "" {
		return AlgorithmFixedWindow
	}
	return alg
}

func (s *Service) allowOnError(ctx context.Context, source string, err error) bool {
	metrics.FallbackUsageTotal.WithLabelValues("ratelimit", "allow_on_error", "store_error").Inc()
	s.logger.WarnwCtx(ctx, "Rate limit store error, allowing request (fallback: allow)",
		"source", source,
		"error", err,
	)
	return true
}

func (s *Service) enforceError(ctx context.Context, source string, err error) error {
	s.allowOnError(ctx, source, err)
	s.recordDecision(source, "allowed")
	return nil
}

func (s *Service) recordDecision(source, decision string) {
	metrics.RateLimitDecisionsTotal.WithLabelValues(source, s.algorithm(), decision).Inc()
}

func (s *Service) timeToNextToken(refillPerSecond float64) time.Duration {
	if refillPerSecond <= 0 {
		return constants.DefaultRetryAfter
	}
	return time.Duration(float64(time.Second) / refillPerSecond)
}

func (s *Service) counterKey(source, identifier string) string {
	return fmt.Sprintf("%scounter:%s:%s", constants.CacheKeyPrefixRateLimit, source, identifier)
}

func (s *Service) windowKey(source, identifier string) string {
	return fmt.Sprintf("%s%s:%s", constants.CacheKeyPrefixWindow, source, identifier)
}

func (s *Service) bucketKey(source, identifier string) string {
	return fmt.Sprintf("%s%s:%s", constants.CacheKeyPrefixBucket, source, identifier)
}

func bucketTTL(bucketSize int, refillPerSecond float64) time.Duration {
	if refillPerSecond <= 0 {
		return 0
	}
	// After a full refill the absent-state default (a full bucket) is
	// equivalent, so the key may expire.
	return time.Duration(float64(bucketSize)/refillPerSecond*float64(time.Second)) * 2
}

func clampQuota(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
