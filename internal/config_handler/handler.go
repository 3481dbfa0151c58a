package config_handler

import (
	"context"
	"encoding/json"

	"hookrelay/internal/logger"
	"hookrelay/pkg/models"
)

// ConfigReloader is implemented by services whose rule sets can be refreshed
// from storage on demand (filtering, routing, rate limiting).
type ConfigReloader interface {
	ReloadRules(ctx context.Context, skipJitter ...bool) error
}

// ConfigUpdateHandler is satisfied by every per-service config event handler
// sharing the config-update topic.
type ConfigUpdateHandler interface {
	HandleConfigUpdate(ctx context.Context, d models.Delivery) error
}

// Handler reacts to ConfigUpdateEvents published by the management service.
// Config events travel on the config-update topic wrapped in the same
// delivery envelope as regular events: the event type carries the config
// event kind and the payload carries the ConfigUpdateEvent fields.
type Handler struct {
	expectedEventType   string
	expectedServiceType string
	reloader            ConfigReloader
	logger              logger.Logger
}

func NewHandler(expectedEventType, expectedServiceType string, reloader ConfigReloader, log logger.Logger) *Handler {
	return &Handler{
		expectedEventType:   expectedEventType,
		expectedServiceType: expectedServiceType,
		reloader:            reloader,
		logger:              log,
	}
}

// HandleConfigUpdate triggers a rule reload when the delivery carries a
// config event addressed to this handler's service type. Events for other
// services are ignored without error so all handlers can share one topic.
func (h *Handler) HandleConfigUpdate(ctx context.Context, d models.Delivery) error {
	if d.Event.Type != h.expectedEventType {
		return nil
	}

	event, err := decodeConfigEvent(d.Event.Payload)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to decode config update event",
			"error", err,
			"event_id", d.Event.ID,
		)
		return err
	}

	if event.ServiceType != h.expectedServiceType {
		return nil
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"service_type", event.ServiceType,
		"action", event.Action,
		"rule_id", event.RuleID,
	)

	if h.reloader == nil {
		return nil
	}

	// Event-triggered reloads skip the anti-stampede jitter: the operator
	// just changed something and expects it live.
	if err := h.reloader.ReloadRules(ctx, true); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload rules after config update",
			"error", err,
			"action", event.Action,
		)
		return err
	}

	h.logger.InfowCtx(ctx, "Rules reloaded after config update",
		"action", event.Action,
		"rule_id", event.RuleID,
	)
	return nil
}

func decodeConfigEvent(payload map[string]interface{}) (models.ConfigUpdateEvent, error) {
	var event models.ConfigUpdateEvent
	raw, err := json.Marshal(payload)
	if err != nil {
		return event, err
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return event, err
	}
	return event, nil
}
