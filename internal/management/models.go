package management

import (
	"time"

	"hookrelay/pkg/models"
)

type CreateFilterRequest struct {
	Name       string                `json:"name" binding:"required"`
	Source     string                `json:"source"`
	EventType  string                `json:"event_type"`
	Conditions []models.Condition    `json:"conditions"`
	Expression string                `json:"expression"`
	Action     models.FilterAction   `json:"action" binding:"required"`
	Transform  *models.TransformSpec `json:"transform"`
	Priority   int                   `json:"priority"`
	Enabled    *bool                 `json:"enabled"`
}

type UpdateFilterRequest struct {
	Name       *string                `json:"name"`
	Source     *string                `json:"source"`
	EventType  *string                `json:"event_type"`
	Conditions *[]models.Condition   `json:"conditions"`
	Expression *string               `json:"expression"`
	Action     *models.FilterAction  `json:"action"`
	Transform  *models.TransformSpec `json:"transform"`
	Priority   *int                  `json:"priority"`
	Enabled    *bool                 `json:"enabled"`
}

type CreateRouteRequest struct {
	Name           string                `json:"name" binding:"required"`
	SourceFilters  []models.EventFilter  `json:"source_filters"`
	TargetAgents   []string              `json:"target_agents" binding:"required"`
	Priority       int                   `json:"priority"`
	Transformation *models.TransformSpec `json:"transformation"`
	RetryPolicy    *models.RetryPolicy   `json:"retry_policy"`
	Enabled        *bool                 `json:"enabled"`
}

type UpdateRouteRequest struct {
	Name           *string               `json:"name"`
	SourceFilters  *[]models.EventFilter `json:"source_filters"`
	TargetAgents   *[]string             `json:"target_agents"`
	Priority       *int                  `json:"priority"`
	Transformation *models.TransformSpec `json:"transformation"`
	RetryPolicy    *models.RetryPolicy   `json:"retry_policy"`
	Enabled        *bool                 `json:"enabled"`
}

// RateLimitSettings is the admin view of the admission-control policy.
type RateLimitSettings struct {
	Algorithm     string                       `json:"algorithm"`
	DefaultLimit  int                          `json:"default_limit"`
	WindowSeconds int                          `json:"window_seconds"`
	BucketSize    int                          `json:"bucket_size,omitempty"`
	RefillRate    float64                      `json:"refill_rate,omitempty"`
	Overrides     map[string]RateLimitOverride `json:"overrides,omitempty"`
}

type RateLimitOverride struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds,omitempty"`
}

type UpdateRateLimitRequest struct {
	Algorithm     *string                       `json:"algorithm,omitempty"`
	DefaultLimit  *int                          `json:"default_limit,omitempty"`
	WindowSeconds *int                          `json:"window_seconds,omitempty"`
	BucketSize    *int                          `json:"bucket_size,omitempty"`
	RefillRate    *float64                      `json:"refill_rate,omitempty"`
	Overrides     *map[string]RateLimitOverride `json:"overrides,omitempty"`
}

// DLQListQuery carries the query-string filters of the dead-letter listing.
type DLQListQuery struct {
	Source      string `form:"source"`
	TargetAgent string `form:"target_agent"`
	Limit       int    `form:"limit"`
	Offset      int    `form:"offset"`
}

type DLQCountResponse struct {
	Count int64 `json:"count"`
}

type ReplayResponse struct {
	ID         string    `json:"id"`
	ReplayedAt time.Time `json:"replayed_at"`
}
