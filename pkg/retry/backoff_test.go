package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hookrelay/pkg/models"
)

func TestNextRetryDelayFixed(t *testing.T) {
	policy := models.RetryPolicy{
		BackoffStrategy: models.BackoffFixed,
		BaseDelay:       2 * time.Second,
		MaxDelay:        30 * time.Second,
	}

	assert.Equal(t, 2*time.Second, NextRetryDelay(policy, 0))
	assert.Equal(t, 2*time.Second, NextRetryDelay(policy, 5))
}

func TestNextRetryDelayExponentialGrowth(t *testing.T) {
	policy := models.RetryPolicy{
		BackoffStrategy: models.BackoffExponential,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
	}

	assert.Equal(t, 1*time.Second, NextRetryDelay(policy, 0))
	assert.Equal(t, 2*time.Second, NextRetryDelay(policy, 1))
	assert.Equal(t, 4*time.Second, NextRetryDelay(policy, 2))
	assert.Equal(t, 8*time.Second, NextRetryDelay(policy, 3))
}

func TestNextRetryDelayCappedAtMaxDelay(t *testing.T) {
	policy := models.RetryPolicy{
		BackoffStrategy: models.BackoffExponential,
		BaseDelay:       time.Second,
		MaxDelay:        10 * time.Second,
	}

	assert.Equal(t, 10*time.Second, NextRetryDelay(policy, 10))
}

func TestNextRetryDelayJitterBounds(t *testing.T) {
	policy := models.RetryPolicy{
		BackoffStrategy: models.BackoffExponential,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		Jitter:          true,
	}

	for i := 0; i < 100; i++ {
		delay := NextRetryDelay(policy, 2)
		assert.GreaterOrEqual(t, delay, 4*time.Second)
		assert.LessOrEqual(t, delay, 6*time.Second)
	}
}

func TestCalculateBackoffDuration(t *testing.T) {
	assert.Equal(t, time.Second, CalculateBackoffDuration(0, time.Second, 2.0, time.Minute))
	assert.Equal(t, 4*time.Second, CalculateBackoffDuration(2, time.Second, 2.0, time.Minute))
	assert.Equal(t, time.Minute, CalculateBackoffDuration(20, time.Second, 2.0, time.Minute))
}
