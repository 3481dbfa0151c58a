package models

import "time"

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy travels with every delivery produced by a route.
type RetryPolicy struct {
	MaxAttempts     int             `json:"max_attempts"`
	BackoffStrategy BackoffStrategy `json:"backoff_strategy"`
	BaseDelay       time.Duration   `json:"base_delay"`
	MaxDelay        time.Duration   `json:"max_delay"`
	Jitter          bool            `json:"jitter"`
}

// DefaultRetryPolicy is applied when a route does not specify one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BackoffStrategy: BackoffExponential,
		BaseDelay:       1 * time.Second,
		MaxDelay:        30 * time.Second,
		Jitter:          true,
	}
}

// EventRoute maps matching events onto one or more target agents.
// A single event may match several routes; each (route, target) pair
// becomes an independent delivery.
type EventRoute struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	SourceFilters  []EventFilter  `json:"source_filters"`
	TargetAgents   []string       `json:"target_agents"`
	Priority       int            `json:"priority"`
	Transformation *TransformSpec `json:"transformation,omitempty"`
	RetryPolicy    RetryPolicy    `json:"retry_policy"`
	Enabled        bool           `json:"enabled"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// EffectiveRetryPolicy fills zero-valued policy fields with defaults.
func (r EventRoute) EffectiveRetryPolicy() RetryPolicy {
	p := r.RetryPolicy
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BackoffStrategy == "" {
		p.BackoffStrategy = def.BackoffStrategy
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}
