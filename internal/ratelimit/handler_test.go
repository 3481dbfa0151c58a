package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/config"
	"hookrelay/internal/logger"
	"hookrelay/pkg/models"
)

func configEventDelivery(eventType string, metadata map[string]interface{}) models.Delivery {
	return models.Delivery{
		ID: "cfg-1",
		Event: models.EventData{
			ID:        "evt-cfg-1",
			Source:    "management-service",
			Type:      eventType,
			Timestamp: time.Now(),
			Payload: map[string]interface{}{
				"event_type":   eventType,
				"service_type": models.ServiceTypeRateLimit,
				"action":       models.ActionUpdate,
				"metadata":     metadata,
			},
		},
	}
}

func TestHandlerAppliesNewPolicy(t *testing.T) {
	svc, _, _ := newTestService(t, config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  2,
		WindowSeconds: 60,
	})
	handler := NewHandler(svc, logger.NopLogger())
	ctx := context.Background()

	require.NoError(t, svc.Enforce(ctx, "github", "repo-1"))
	require.NoError(t, svc.Enforce(ctx, "github", "repo-1"))
	require.Error(t, svc.Enforce(ctx, "github", "repo-1"))

	d := configEventDelivery(models.EventTypeRateLimitUpdated, map[string]interface{}{
		"algorithm":      AlgorithmFixedWindow,
		"default_limit":  5,
		"window_seconds": 60,
	})
	require.NoError(t, handler.HandleConfigUpdate(ctx, d))

	// The raised limit admits the request that was just blocked.
	assert.NoError(t, svc.Enforce(ctx, "github", "repo-1"))
}

func TestHandlerIgnoresOtherEventTypes(t *testing.T) {
	svc, _, _ := newTestService(t, config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  1,
		WindowSeconds: 60,
	})
	handler := NewHandler(svc, logger.NopLogger())
	ctx := context.Background()

	d := configEventDelivery(models.EventTypeFilterUpdated, map[string]interface{}{
		"default_limit": 99,
	})
	require.NoError(t, handler.HandleConfigUpdate(ctx, d))

	require.NoError(t, svc.Enforce(ctx, "github", "repo-1"))
	assert.Error(t, svc.Enforce(ctx, "github", "repo-1"), "policy must be untouched")
}

func TestHandlerDecodesOverrides(t *testing.T) {
	svc, _, _ := newTestService(t, config.RateLimitConfig{
		Algorithm:     AlgorithmFixedWindow,
		DefaultLimit:  10,
		WindowSeconds: 60,
	})
	handler := NewHandler(svc, logger.NopLogger())
	ctx := context.Background()

	d := configEventDelivery(models.EventTypeRateLimitUpdated, map[string]interface{}{
		"algorithm":      AlgorithmFixedWindow,
		"default_limit":  10,
		"window_seconds": 60,
		"overrides": map[string]interface{}{
			"github": map[string]interface{}{"limit": 1, "window_seconds": 60},
		},
	})
	require.NoError(t, handler.HandleConfigUpdate(ctx, d))

	require.NoError(t, svc.Enforce(ctx, "github", "repo-1"))
	assert.Error(t, svc.Enforce(ctx, "github", "repo-1"), "source override should cap at one request")
}
