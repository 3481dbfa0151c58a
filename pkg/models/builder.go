package models

import (
	"time"

	"github.com/google/uuid"
)

type EventDataBuilder struct {
	event *EventData
}

func NewEventDataBuilder() *EventDataBuilder {
	return &EventDataBuilder{
		event: &EventData{
			Payload:    make(map[string]interface{}),
			Priority:   DefaultEventPriority,
			MaxRetries: DefaultMaxRetries,
		},
	}
}

func (b *EventDataBuilder) WithID(id string) *EventDataBuilder {
	b.event.ID = id
	return b
}

func (b *EventDataBuilder) WithSource(source string) *EventDataBuilder {
	b.event.Source = source
	return b
}

func (b *EventDataBuilder) WithType(eventType string) *EventDataBuilder {
	b.event.Type = eventType
	return b
}

func (b *EventDataBuilder) WithTimestamp(timestamp time.Time) *EventDataBuilder {
	b.event.Timestamp = timestamp
	return b
}

func (b *EventDataBuilder) WithPayload(payload map[string]interface{}) *EventDataBuilder {
	b.event.Payload = payload
	return b
}

func (b *EventDataBuilder) WithPriority(priority int) *EventDataBuilder {
	b.event.Priority = priority
	return b
}

func (b *EventDataBuilder) WithMaxRetries(maxRetries int) *EventDataBuilder {
	b.event.MaxRetries = maxRetries
	return b
}

func (b *EventDataBuilder) WithTags(tags ...string) *EventDataBuilder {
	b.event.Tags = tags
	return b
}

func (b *EventDataBuilder) WithMetadata(key string, value interface{}) *EventDataBuilder {
	b.event.SetMetadata(key, value)
	return b
}

func (b *EventDataBuilder) Build() *EventData {
	if b.event.ID == "" {
		b.event.ID = uuid.New().String()
	}
	if b.event.Timestamp.IsZero() {
		b.event.Timestamp = time.Now()
	}
	return b.event
}
