package models

import "time"

// FilterAction decides what happens when a filter matches an event.
type FilterAction string

const (
	FilterActionInclude   FilterAction = "include"
	FilterActionExclude   FilterAction = "exclude"
	FilterActionTransform FilterAction = "transform"
)

// Condition operators understood by the field-path evaluator.
const (
	OperatorEquals    = "equals"
	OperatorNotEquals = "not_equals"
	OperatorContains  = "contains"
	OperatorGT        = "gt"
	OperatorLT        = "lt"
	OperatorGTE       = "gte"
	OperatorLTE       = "lte"
	OperatorIn        = "in"
	OperatorExists    = "exists"
)

// Condition compares the value at a field path against an expected value.
// Field paths use dot notation over the event, e.g. "payload.pull_request.draft".
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// TransformSpec rewrites event fields in place. Set writes literal values at
// field paths; Remove deletes paths; Expression is an optional CEL expression
// whose result map is merged into the payload.
type TransformSpec struct {
	Set        map[string]interface{} `json:"set,omitempty"`
	Remove     []string               `json:"remove,omitempty"`
	Expression string                 `json:"expression,omitempty"`
}

// EventFilter is a named filtering rule. An empty or "*" Source/EventType
// matches any value. Conditions are ANDed; Expression, when present, is an
// additional CEL predicate evaluated after the conditions.
type EventFilter struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Source     string         `json:"source"`
	EventType  string         `json:"event_type"`
	Conditions []Condition    `json:"conditions,omitempty"`
	Expression string         `json:"expression,omitempty"`
	Action     FilterAction   `json:"action"`
	Transform  *TransformSpec `json:"transform,omitempty"`
	Priority   int            `json:"priority"`
	Enabled    bool           `json:"enabled"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Wildcard is the match-anything value for Source and EventType.
const Wildcard = "*"

// MatchesScope reports whether the filter's source/type keys apply to the
// given event coordinates. Condition evaluation is the engine's job.
func (f EventFilter) MatchesScope(source, eventType string) bool {
	if f.Source != "" && f.Source != Wildcard && f.Source != source {
		return false
	}
	if f.EventType != "" && f.EventType != Wildcard && f.EventType != eventType {
		return false
	}
	return true
}

// IsExact reports whether the filter names both coordinates explicitly.
// Exact filters are evaluated before wildcard ones at equal priority.
func (f EventFilter) IsExact() bool {
	return f.Source != "" && f.Source != Wildcard &&
		f.EventType != "" && f.EventType != Wildcard
}
