package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"hookrelay/pkg/models"
)

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = 0
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}

// NextRetryDelay computes the wait before the given redelivery attempt under
// a route's retry policy. Fixed strategy always waits BaseDelay; exponential
// waits BaseDelay * 2^attempt capped at MaxDelay. When Jitter is set a random
// fraction of up to half the delay is added to spread out retry storms.
func NextRetryDelay(policy models.RetryPolicy, attempt int) time.Duration {
	var delay time.Duration

	switch policy.BackoffStrategy {
	case models.BackoffFixed:
		delay = policy.BaseDelay
	default:
		delay = CalculateBackoffDuration(attempt, policy.BaseDelay, 2.0, policy.MaxDelay)
	}

	if policy.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
	}

	return delay
}
