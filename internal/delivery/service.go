package delivery

import (
	"context"
	"fmt"
	"time"

	"hookrelay/internal/filtering"
	"hookrelay/internal/logger"
	"hookrelay/pkg/metrics"
	"hookrelay/pkg/models"
	"hookrelay/pkg/tracing"
)

// FailureHandler receives deliveries whose attempt failed. The redelivery
// manager implements it; tests substitute their own.
type FailureHandler interface {
	HandleFailure(ctx context.Context, d models.Delivery, attemptErr error) error
	RetryQueueSize(ctx context.Context) int
}

// Stats is the payload of GET /queue/stats.
type Stats struct {
	QueueSize       int `json:"queueSize"`
	RetryQueueSize  int `json:"retryQueueSize"`
	SubscriberCount int `json:"subscriberCount"`
}

// Service owns the priority queue and the delivery loop. Deliveries enter
// through Enqueue and leave through the transport; failures hand off to the
// redelivery manager and are never fatal to the pipeline.
type Service struct {
	queue     *PriorityQueue
	registry  *SubscriptionRegistry
	transport Transport
	failures  FailureHandler
	logger    logger.Logger
	notify    chan struct{}
}

func NewService(registry *SubscriptionRegistry, transport Transport, failures FailureHandler, log logger.Logger) *Service {
	return &Service{
		queue:     NewPriorityQueue(),
		registry:  registry,
		transport: transport,
		failures:  failures,
		logger:    log,
		notify:    make(chan struct{}, 1),
	}
}

// Enqueue places a delivery on the priority queue and wakes the processing
// loop. Ordering is by descending priority, FIFO within a priority.
func (s *Service) Enqueue(ctx context.Context, d models.Delivery) {
	s.queue.Push(d)
	metrics.DeliveriesQueuedTotal.WithLabelValues(d.TargetAgent).Inc()
	metrics.SetQueueDepth(s.queue.Len())

	select {
	case s.notify <- struct{}{}:
	default: // a wakeup is already pending
	}
}

// Run processes the queue until the context ends. Queue processing is
// strictly priority-ordered within a drain pass.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
			s.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue drains the queue in priority order, attempting each delivery
// once. Failed attempts are handed to the failure handler, not re-queued.
func (s *Service) ProcessQueue(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		d, ok := s.queue.Pop()
		if !ok {
			metrics.SetQueueDepth(0)
			return
		}
		metrics.SetQueueDepth(s.queue.Len())
		s.attempt(ctx, d)
	}
}

func (s *Service) attempt(ctx context.Context, d models.Delivery) {
	ctx, span := tracing.GetTracer("dispatch-service").Start(ctx, "delivery.attempt")
	defer span.End()

	if s.subscriptionRejects(d) {
		metrics.DeliveriesTotal.WithLabelValues(d.TargetAgent, "skipped").Inc()
		s.logger.DebugwCtx(ctx, "Delivery skipped, subscription filters do not match",
			"delivery_id", d.ID,
			"event_id", d.Event.ID,
			"target_agent", d.TargetAgent,
		)
		return
	}

	start := time.Now()
	err := s.deliver(ctx, d)
	status := "delivered"
	if err != nil {
		status = "failed"
	}
	metrics.DeliveriesTotal.WithLabelValues(d.TargetAgent, status).Inc()
	metrics.ObserveDeliveryDuration(time.Since(start), d.TargetAgent, status)

	if err == nil {
		s.logger.InfowCtx(ctx, "Delivery succeeded",
			"delivery_id", d.ID,
			"event_id", d.Event.ID,
			"target_agent", d.TargetAgent,
		)
		return
	}

	s.logger.WarnwCtx(ctx, "Delivery attempt failed",
		"delivery_id", d.ID,
		"event_id", d.Event.ID,
		"target_agent", d.TargetAgent,
		"error", err,
	)

	if handleErr := s.failures.HandleFailure(ctx, d, err); handleErr != nil {
		s.logger.ErrorwCtx(ctx, "Failed to hand delivery to retry manager",
			"delivery_id", d.ID,
			"error", handleErr,
		)
	}
}

func (s *Service) deliver(ctx context.Context, d models.Delivery) error {
	sub, ok := s.registry.Get(d.TargetAgent)
	if !ok {
		return fmt.Errorf("unknown target agent %q", d.TargetAgent)
	}
	return s.transport.Deliver(ctx, d, sub)
}

// Redeliver attempts one delivery outside the queue. Used by the redelivery
// manager for due retries. A subscription whose filters stopped matching
// while the delivery waited resolves as done, not as a failure.
func (s *Service) Redeliver(ctx context.Context, d models.Delivery) error {
	if s.subscriptionRejects(d) {
		s.logger.DebugwCtx(ctx, "Redelivery skipped, subscription filters do not match",
			"delivery_id", d.ID,
			"target_agent", d.TargetAgent,
		)
		return nil
	}
	return s.deliver(ctx, d)
}

// subscriptionRejects reports whether the target agent's subscription
// filters rule the event out. Unknown agents are not rejected here so the
// normal delivery path can surface the error.
func (s *Service) subscriptionRejects(d models.Delivery) bool {
	sub, ok := s.registry.Get(d.TargetAgent)
	return ok && !subscriptionAccepts(sub, d.Event)
}

// subscriptionAccepts reports whether any of the subscription's filters
// admit the event. Subscriptions without filters accept everything.
func subscriptionAccepts(sub models.Subscription, event models.EventData) bool {
	if len(sub.Filters) == 0 {
		return true
	}
	for _, filter := range sub.Filters {
		if !filter.MatchesScope(event.Source, event.Type) {
			continue
		}
		ok, err := filtering.EvaluateConditions(event, filter.Conditions)
		if err != nil || !ok {
			continue
		}
		return true
	}
	return false
}

func (s *Service) Stats(ctx context.Context) Stats {
	return Stats{
		QueueSize:       s.queue.Len(),
		RetryQueueSize:  s.failures.RetryQueueSize(ctx),
		SubscriberCount: s.registry.Count(),
	}
}
