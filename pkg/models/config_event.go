package models

import "time"

// ConfigUpdateEvent is published by the management service whenever filters,
// routes or rate-limit configs change, so running services reload their rule
// sets without waiting for the periodic refresh.
type ConfigUpdateEvent struct {
	EventType   string                 `json:"event_type"`   // "filter_updated", "route_updated", "ratelimit_updated"
	ServiceType string                 `json:"service_type"` // "filtering", "routing", "ratelimit"
	RuleID      string                 `json:"rule_id,omitempty"`
	Action      string                 `json:"action"` // "create", "update", "delete", "toggle"
	Timestamp   time.Time              `json:"timestamp"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeFilterUpdated    = "filter_updated"
	EventTypeRouteUpdated     = "route_updated"
	EventTypeRateLimitUpdated = "ratelimit_updated"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionToggle = "toggle"
	ActionReload = "reload"
)

const (
	ServiceTypeFiltering = "filtering"
	ServiceTypeRouting   = "routing"
	ServiceTypeRateLimit = "ratelimit"
)
