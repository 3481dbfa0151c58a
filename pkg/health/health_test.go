package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	name  string
	err   error
	delay time.Duration
}

func (c stubChecker) Name() string { return c.name }

func (c stubChecker) Check(ctx context.Context) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.err
}

func TestCheckReportsPerDependencyStatus(t *testing.T) {
	registry := NewCheckerRegistry()
	registry.Register(stubChecker{name: "postgresql"})
	registry.Register(stubChecker{name: "redis", err: errors.New("connection refused")})

	health := registry.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, health.Status)
	require.Len(t, health.Checks, 2)
	assert.Equal(t, StatusHealthy, health.Checks["postgresql"].Status)
	assert.Equal(t, StatusUnhealthy, health.Checks["redis"].Status)
	assert.Contains(t, health.Checks["redis"].Message, "connection refused")
}

func TestCheckMarksSlowDependencyDegraded(t *testing.T) {
	registry := NewCheckerRegistry()
	registry.Register(stubChecker{name: "mongodb", delay: degradedAfter + 50*time.Millisecond})

	health := registry.Check(context.Background())

	assert.Equal(t, StatusDegraded, health.Status)
	result := health.Checks["mongodb"]
	assert.Equal(t, StatusDegraded, result.Status)
	assert.NotEmpty(t, result.Message)
	assert.GreaterOrEqual(t, result.LatencyMS, degradedAfter.Milliseconds())
}

func TestCheckAllHealthy(t *testing.T) {
	registry := NewCheckerRegistry()
	registry.Register(stubChecker{name: "postgresql"})

	health := registry.Check(context.Background())

	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, StatusHealthy, health.Checks["postgresql"].Status)
}
