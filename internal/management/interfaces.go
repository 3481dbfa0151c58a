package management

import (
	"context"

	"hookrelay/pkg/models"
)

type Service interface {
	CreateFilter(ctx context.Context, req CreateFilterRequest) (*models.EventFilter, error)
	ListFilters(ctx context.Context) ([]models.EventFilter, error)
	GetFilter(ctx context.Context, id string) (*models.EventFilter, error)
	UpdateFilter(ctx context.Context, id string, req UpdateFilterRequest) (*models.EventFilter, error)
	DeleteFilter(ctx context.Context, id string) error

	CreateRoute(ctx context.Context, req CreateRouteRequest) (*models.EventRoute, error)
	ListRoutes(ctx context.Context) ([]models.EventRoute, error)
	GetRoute(ctx context.Context, id string) (*models.EventRoute, error)
	UpdateRoute(ctx context.Context, id string, req UpdateRouteRequest) (*models.EventRoute, error)
	DeleteRoute(ctx context.Context, id string) error

	GetRuleVersions(ctx context.Context, ruleID string) ([]RuleVersion, error)
	GetAuditLogs(ctx context.Context, ruleID *string, ruleType string, limit int) ([]AuditLog, error)

	GetRateLimitSettings(ctx context.Context) (*RateLimitSettings, error)
	UpdateRateLimitSettings(ctx context.Context, req UpdateRateLimitRequest) (*RateLimitSettings, error)
}
