package ingest

import (
	"context"
	"encoding/json"
	"net/http"

	"hookrelay/internal/logger"
	"hookrelay/pkg/errors"
	"hookrelay/pkg/models"
	"hookrelay/pkg/tracing"
)

// Filter is the slice of the filter engine the pipeline needs.
type Filter interface {
	FilterEvent(ctx context.Context, event *models.EventData) (bool, []string, error)
}

// Router turns one event into its deliveries.
type Router interface {
	RouteEvent(ctx context.Context, event models.EventData) ([]models.Delivery, error)
}

// Limiter admits or rejects one unit of work per (source, identifier).
type Limiter interface {
	Enforce(ctx context.Context, source, identifier string) error
}

// Publisher hands deliveries to the dispatch side.
type Publisher interface {
	Publish(ctx context.Context, d models.Delivery) error
}

// Result reports what the pipeline did with one webhook.
type Result struct {
	EventID    string `json:"event_id"`
	Status     string `json:"status"` // "queued" or "filtered"
	Deliveries int    `json:"deliveries"`
}

// Service runs the ingestion pipeline: signature check, rate-limit
// admission, normalization, filtering, routing, publishing. Each request is
// independent; all shared state lives behind the injected collaborators.
type Service struct {
	validator SignatureValidator
	limiter   Limiter
	filter    Filter
	router    Router
	publisher Publisher
	recorder  Recorder
	logger    logger.Logger
}

func NewService(
	validator SignatureValidator,
	limiter Limiter,
	filter Filter,
	router Router,
	publisher Publisher,
	recorder Recorder,
	log logger.Logger,
) *Service {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Service{
		validator: validator,
		limiter:   limiter,
		filter:    filter,
		router:    router,
		publisher: publisher,
		recorder:  recorder,
		logger:    log,
	}
}

// ProcessWebhook runs one inbound webhook through the full pipeline.
// Validation and rate-limit rejections surface to the caller; routing and
// publishing problems do not fail the request once the event is admitted.
func (s *Service) ProcessWebhook(ctx context.Context, source, identifier string, headers http.Header, body []byte) (Result, error) {
	ctx, span := tracing.GetTracer("ingest-service").Start(ctx, "ingest.process_webhook")
	defer span.End()

	s.recorder.RecordEventReceived(ctx, source)

	if _, err := s.validator.Validate(source, headers, body); err != nil {
		return Result{}, err
	}

	if err := s.limiter.Enforce(ctx, source, identifier); err != nil {
		return Result{}, err
	}

	event, err := s.normalize(source, headers, body)
	if err != nil {
		return Result{}, err
	}

	passed, matched, err := s.filter.FilterEvent(ctx, &event)
	if err != nil {
		return Result{}, err
	}
	if !passed {
		s.recorder.RecordEventFiltered(ctx, source)
		s.logger.InfowCtx(ctx, "Event filtered",
			"event_id", event.ID,
			"source", source,
			"matched_filters", matched,
		)
		return Result{EventID: event.ID, Status: "filtered"}, nil
	}

	deliveries, err := s.router.RouteEvent(ctx, event)
	if err != nil {
		s.recorder.RecordEventFailed(ctx, source)
		return Result{}, errors.Wrap(err, errors.ErrProcessing)
	}

	published := 0
	for _, d := range deliveries {
		if err := s.publisher.Publish(ctx, d); err != nil {
			// Publishing failures are internal: log, count, keep going.
			s.recorder.RecordEventFailed(ctx, source)
			s.logger.ErrorwCtx(ctx, "Failed to publish delivery",
				"delivery_id", d.ID,
				"event_id", event.ID,
				"target_agent", d.TargetAgent,
				"error", err,
			)
			continue
		}
		published++
	}

	s.recorder.RecordEventProcessed(ctx, source)
	s.logger.InfowCtx(ctx, "Event queued",
		"event_id", event.ID,
		"source", source,
		"deliveries", published,
	)
	return Result{EventID: event.ID, Status: "queued", Deliveries: published}, nil
}

func (s *Service) normalize(source string, headers http.Header, body []byte) (models.EventData, error) {
	var payload map[string]interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return models.EventData{}, errors.ErrValidation.
				WithDetail("message", "request body is not valid JSON").
				WithCause(err)
		}
	}

	builder := models.NewEventDataBuilder().
		WithSource(source).
		WithType(eventType(headers, payload))
	if payload != nil {
		builder = builder.WithPayload(payload)
	}
	event := builder.Build()

	if err := models.ValidateEventData(event); err != nil {
		return models.EventData{}, errors.Wrap(err, errors.ErrValidation)
	}
	return *event, nil
}

// eventType prefers the event-type header, then a "type" payload field.
func eventType(headers http.Header, payload map[string]interface{}) string {
	for _, header := range eventTypeHeaders {
		if v := headers.Get(header); v != "" {
			return v
		}
	}
	if t, ok := payload["type"].(string); ok && t != "" {
		return t
	}
	return "unknown"
}

var eventTypeHeaders = []string{
	"X-Hookrelay-Event",
	"X-GitHub-Event",
	"X-Gitlab-Event",
	"X-Event-Key",
}
