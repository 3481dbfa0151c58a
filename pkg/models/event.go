package models

import "time"

// EventData is the normalized unit of work flowing through the pipeline.
// ID is assigned once at ingestion and never changes afterwards.
type EventData struct {
	ID         string                 `json:"id"`
	Source     string                 `json:"source"`
	Type       string                 `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	Payload    map[string]interface{} `json:"payload"`
	Priority   int                    `json:"priority"`
	RetryCount int                    `json:"retry_count"`
	MaxRetries int                    `json:"max_retries"`
	Tags       []string               `json:"tags,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"` // pipeline scratch space (target_agent, queued_at, trace_id)
}

const (
	DefaultEventPriority = 5
	DefaultMaxRetries    = 3
)

// Clone returns a copy safe for independent per-target mutation: payload
// and metadata are copied recursively so a transformation writing a nested
// path never leaks into sibling deliveries or the original event.
func (e EventData) Clone() EventData {
	clone := e
	clone.Payload = deepCopyMap(e.Payload)

	if e.Metadata != nil {
		clone.Metadata = deepCopyMap(e.Metadata)
	}

	if e.Tags != nil {
		clone.Tags = append([]string(nil), e.Tags...)
	}

	return clone
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// SetMetadata writes a scratch value, allocating the map on first use.
func (e *EventData) SetMetadata(key string, value interface{}) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
}

func (e *EventData) GetMetadata(key string) (interface{}, bool) {
	if e.Metadata == nil {
		return nil, false
	}
	v, ok := e.Metadata[key]
	return v, ok
}

func (e *EventData) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
