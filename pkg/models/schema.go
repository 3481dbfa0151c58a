package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateEventData(event *EventData) error {
	if event == nil {
		return &ValidationError{
			Field:   "event",
			Message: "event cannot be nil",
		}
	}

	if event.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "event ID is required",
		}
	}

	if event.Source == "" {
		return &ValidationError{
			Field:   "source",
			Message: "event source is required",
		}
	}

	if event.Timestamp.IsZero() {
		return &ValidationError{
			Field:   "timestamp",
			Message: "event timestamp is required",
		}
	}

	if event.Payload == nil {
		return &ValidationError{
			Field:   "payload",
			Message: "event payload cannot be nil",
		}
	}

	if event.RetryCount > event.MaxRetries {
		return &ValidationError{
			Field:   "retry_count",
			Message: "retry count exceeds max retries",
		}
	}

	return nil
}

func ValidateDelivery(d *Delivery) error {
	if d == nil {
		return &ValidationError{
			Field:   "delivery",
			Message: "delivery cannot be nil",
		}
	}

	if d.TargetAgent == "" {
		return &ValidationError{
			Field:   "target_agent",
			Message: "delivery target agent is required",
		}
	}

	return ValidateEventData(&d.Event)
}
