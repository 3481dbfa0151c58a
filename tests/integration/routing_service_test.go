package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/management"
	"hookrelay/internal/routing"
	"hookrelay/pkg/models"
)

func newRoutingService(t *testing.T, infra *TestInfra) *routing.Service {
	t.Helper()
	svc, err := routing.NewService(routing.NewRepository(infra.PostgresDB), createTestRoutingConfig(), createTestLogger())
	require.NoError(t, err)
	return svc
}

func TestRoutingService_FanOutFromStoredRoute(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	ctx := context.Background()

	mgmtRepo := management.NewRepository(infra.PostgresDB)
	route := createTestRoute("pr_route", []string{"ci-agent", "review-agent"}, 7, true)
	route.SourceFilters = []models.EventFilter{
		{Source: "github", EventType: "pull_request", Action: models.FilterActionInclude},
	}
	require.NoError(t, mgmtRepo.CreateRoute(ctx, route))

	svc := newRoutingService(t, infra)
	require.NoError(t, svc.ReloadRules(ctx, true))

	event := createTestEvent("evt-1", "github", "pull_request", map[string]interface{}{"action": "opened"})
	deliveries, err := svc.RouteEvent(ctx, event)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)

	agents := []string{deliveries[0].TargetAgent, deliveries[1].TargetAgent}
	assert.ElementsMatch(t, []string{"ci-agent", "review-agent"}, agents)
	for _, d := range deliveries {
		assert.Equal(t, route.ID, d.RouteID)
		assert.Equal(t, 7, d.Priority)
		assert.Equal(t, "evt-1", d.Event.ID)
	}
}

func TestRoutingService_DisabledRouteIgnored(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	ctx := context.Background()

	mgmtRepo := management.NewRepository(infra.PostgresDB)
	route := createTestRoute("disabled_route", []string{"ci-agent"}, 5, false)
	require.NoError(t, mgmtRepo.CreateRoute(ctx, route))

	svc := newRoutingService(t, infra)
	require.NoError(t, svc.ReloadRules(ctx, true))

	event := createTestEvent("evt-2", "github", "push", map[string]interface{}{})
	deliveries, err := svc.RouteEvent(ctx, event)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestRoutingService_ScopedRouteSkipsOtherSources(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	ctx := context.Background()

	mgmtRepo := management.NewRepository(infra.PostgresDB)
	route := createTestRoute("github_only", []string{"ci-agent"}, 5, true)
	route.SourceFilters = []models.EventFilter{
		{Source: "github", Action: models.FilterActionInclude},
	}
	require.NoError(t, mgmtRepo.CreateRoute(ctx, route))

	svc := newRoutingService(t, infra)
	require.NoError(t, svc.ReloadRules(ctx, true))

	event := createTestEvent("evt-3", "gitlab", "push", map[string]interface{}{})
	deliveries, err := svc.RouteEvent(ctx, event)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}
