package integration

import (
	"time"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	"hookrelay/internal/logger"
	"hookrelay/pkg/models"
)

const (
	containerStartupTimeout = 60
	timestampDelay          = 10 * time.Millisecond
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestFilteringConfig() config.FilteringConfig {
	return config.FilteringConfig{
		Fallback: config.FallbackConfig{
			OnError: constants.FallbackAllow,
		},
		Reload: config.ReloadConfig{
			IntervalSeconds: 60,
		},
	}
}

func createTestRoutingConfig() config.RoutingConfig {
	return config.RoutingConfig{
		Reload: config.ReloadConfig{
			IntervalSeconds: 60,
		},
	}
}

func createTestFilter(name string, action models.FilterAction, priority int, enabled bool) *models.EventFilter {
	return &models.EventFilter{
		Name:     name,
		Source:   "github",
		Action:   action,
		Priority: priority,
		Enabled:  enabled,
	}
}

func createTestRoute(name string, agents []string, priority int, enabled bool) *models.EventRoute {
	return &models.EventRoute{
		Name:         name,
		TargetAgents: agents,
		Priority:     priority,
		RetryPolicy:  models.DefaultRetryPolicy(),
		Enabled:      enabled,
	}
}

func createTestEvent(id, source, eventType string, payload map[string]interface{}) models.EventData {
	return models.EventData{
		ID:        id,
		Source:    source,
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
		Priority:  models.DefaultEventPriority,
	}
}
