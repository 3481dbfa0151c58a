package models

import "time"

// Delivery is one pending delivery attempt for one target agent. It is the
// wire envelope between the ingest and dispatch services and the unit the
// priority queue orders.
type Delivery struct {
	ID          string      `json:"id"`
	Event       EventData   `json:"event"`
	TargetAgent string      `json:"target_agent"`
	RouteID     string      `json:"route_id,omitempty"`
	Priority    int         `json:"priority"`
	RetryPolicy RetryPolicy `json:"retry_policy"`
	QueuedAt    time.Time   `json:"queued_at"`
}

// RetryableEvent tracks a delivery awaiting redelivery after a failure.
// Removed on success; moved to the dead-letter store once AttemptCount
// reaches MaxAttempts.
type RetryableEvent struct {
	ID            string      `json:"id"`
	OriginalEvent EventData   `json:"original_event"`
	TargetAgent   string      `json:"target_agent"`
	RouteID       string      `json:"route_id,omitempty"`
	AttemptCount  int         `json:"attempt_count"`
	MaxAttempts   int         `json:"max_attempts"`
	RetryPolicy   RetryPolicy `json:"retry_policy"`
	LastError     string      `json:"last_error"`
	NextRetryAt   time.Time   `json:"next_retry_at"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Exhausted reports whether the retry budget is spent.
func (r RetryableEvent) Exhausted() bool {
	return r.AttemptCount >= r.MaxAttempts
}

// Due reports whether the event is eligible for another attempt at t.
func (r RetryableEvent) Due(t time.Time) bool {
	return !t.Before(r.NextRetryAt)
}

// DeadLetterEntry is the terminal failure record kept for operational
// inspection. Dead letters are never retried automatically.
type DeadLetterEntry struct {
	ID           string                 `json:"id" bson:"_id,omitempty"`
	EventID      string                 `json:"event_id" bson:"event_id"`
	Source       string                 `json:"source" bson:"source"`
	Type         string                 `json:"type" bson:"type"`
	TargetAgent  string                 `json:"target_agent" bson:"target_agent"`
	Payload      map[string]interface{} `json:"payload" bson:"payload"`
	Error        string                 `json:"error" bson:"error"`
	AttemptCount int                    `json:"attempt_count" bson:"attempt_count"`
	MaxAttempts  int                    `json:"max_attempts" bson:"max_attempts"`
	FailedAt     time.Time              `json:"failed_at" bson:"failed_at"`
	ReplayedAt   *time.Time             `json:"replayed_at,omitempty" bson:"replayed_at,omitempty"`
}

// Subscription declares a target agent's interest in events. The delivery
// layer checks Filters before each attempt; an empty Filters accepts all.
type Subscription struct {
	AgentID   string        `json:"agent_id"`
	Endpoint  string        `json:"endpoint"`
	Secret    string        `json:"secret,omitempty"`
	Filters   []EventFilter `json:"filters,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
