package management

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hookrelay/internal/broker"
	"hookrelay/pkg/models"
)

// ConfigEventProducer announces rule changes on the config-update topic so
// running pipeline services reload without waiting for the periodic refresh.
// Config events ride the same delivery envelope as regular events: the event
// type names the config event kind, the payload carries the event fields.
type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
	}
}

func (p *ConfigEventProducer) PublishFilterEvent(ctx context.Context, action, filterID, changedBy string) error {
	return p.publishEvent(ctx, models.ConfigUpdateEvent{
		EventType:   models.EventTypeFilterUpdated,
		ServiceType: models.ServiceTypeFiltering,
		RuleID:      filterID,
		Action:      action,
		Timestamp:   time.Now(),
		ChangedBy:   changedBy,
	})
}

func (p *ConfigEventProducer) PublishRouteEvent(ctx context.Context, action, routeID, changedBy string) error {
	return p.publishEvent(ctx, models.ConfigUpdateEvent{
		EventType:   models.EventTypeRouteUpdated,
		ServiceType: models.ServiceTypeRouting,
		RuleID:      routeID,
		Action:      action,
		Timestamp:   time.Now(),
		ChangedBy:   changedBy,
	})
}

func (p *ConfigEventProducer) PublishRateLimitEvent(ctx context.Context, action, changedBy string, metadata map[string]interface{}) error {
	return p.publishEvent(ctx, models.ConfigUpdateEvent{
		EventType:   models.EventTypeRateLimitUpdated,
		ServiceType: models.ServiceTypeRateLimit,
		Action:      action,
		Timestamp:   time.Now(),
		ChangedBy:   changedBy,
		Metadata:    metadata,
	})
}

func (p *ConfigEventProducer) publishEvent(ctx context.Context, event models.ConfigUpdateEvent) error {
	if p.producer == nil || p.topic == "" {
		return nil
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal config event: %w", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(eventJSON, &payload); err != nil {
		return fmt.Errorf("failed to build config event payload: %w", err)
	}

	d := models.Delivery{
		ID: uuid.New().String(),
		Event: models.EventData{
			ID:        uuid.New().String(),
			Source:    "management-service",
			Type:      event.EventType,
			Timestamp: time.Now(),
			Payload:   payload,
		},
		QueuedAt: time.Now(),
	}

	return p.producer.Publish(ctx, p.topic, d)
}
