package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_received_total",
			Help: "Total number of webhook events received (count)",
		},
		[]string{"source"},
	)

	IngestOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_outcome_total",
			Help: "Ingested webhook events by pipeline outcome (count)",
		},
		[]string{"source", "outcome"}, // queued, filtered, failed
	)

	EventsFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filtering_events_total",
			Help: "Total number of events evaluated by the filter engine (count)",
		},
		[]string{"status"}, // passed, excluded, transformed
	)

	EventsRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_events_total",
			Help: "Total number of events processed by the router (count)",
		},
		[]string{"status"}, // matched, unmatched
	)

	DeliveriesQueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_queued_total",
			Help: "Total number of deliveries placed on the priority queue (count)",
		},
		[]string{"agent"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of delivery attempts by outcome (count)",
		},
		[]string{"agent", "status"}, // delivered, failed, skipped
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_ms",
			Help:    "Delivery attempt duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"agent", "status"},
	)

	FilteringDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filtering_duration_ms",
			Help:    "Filter evaluation duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_queue_depth",
			Help: "Current number of deliveries waiting in the priority queue (count)",
		},
	)

	RetryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "retry_queue_depth",
			Help: "Current number of events in the retry table (count)",
		},
	)

	SubscriberCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_subscribers",
			Help: "Number of registered target agent subscriptions (count)",
		},
	)

	FilteringActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "filtering_active_rules",
			Help: "Number of active event filters (count)",
		},
	)

	RoutingActiveRoutes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routing_active_routes",
			Help: "Number of active event routes (count)",
		},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Admission decisions by the webhook rate limiter (count)",
		},
		[]string{"source", "algorithm", "decision"}, // allowed, blocked
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_ratelimit_requests_total",
			Help: "Total number of admin API requests through the per-IP rate limiter (count)",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	RetryScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_scheduled_total",
			Help: "Total number of deliveries scheduled for retry (count)",
		},
		[]string{"agent"},
	)

	DeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letter_events_total",
			Help: "Total number of events moved to the dead-letter store (count)",
		},
		[]string{"source", "agent"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of broker messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Times a fail-open/fail-closed fallback decided an outcome (count)",
		},
		[]string{"service", "fallback", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures observed by circuit breaker (count)",
		},
		[]string{"name"},
	)
)

func ObserveFilteringDuration(d time.Duration, status string) {
	FilteringDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func ObserveDeliveryDuration(d time.Duration, agent, status string) {
	DeliveryDuration.WithLabelValues(agent, status).Observe(float64(d.Milliseconds()))
}

func SetFilteringActiveRules(n int) {
	FilteringActiveRules.Set(float64(n))
}

func SetRoutingActiveRoutes(n int) {
	RoutingActiveRoutes.Set(float64(n))
}

func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}

func SetRetryQueueDepth(n int) {
	RetryQueueDepth.Set(float64(n))
}

func SetSubscriberCount(n int) {
	SubscriberCount.Set(float64(n))
}

func RegisterIngestMetrics() {
	prometheus.MustRegister(
		EventsReceivedTotal,
		IngestOutcomesTotal,
		EventsFilteredTotal,
		EventsRoutedTotal,
		FilteringDuration,
		FilteringActiveRules,
		RoutingActiveRoutes,
		RateLimitDecisionsTotal,
		FallbackUsageTotal,
	)
}

func RegisterDispatchMetrics() {
	prometheus.MustRegister(
		DeliveriesQueuedTotal,
		DeliveriesTotal,
		DeliveryDuration,
		QueueDepth,
		RetryQueueDepth,
		SubscriberCount,
		RetryScheduledTotal,
		DeadLetterTotal,
	)
}

func RegisterManagementMetrics() {
	prometheus.MustRegister(
		RateLimitRequestsTotal,
	)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(
		RetryAttemptsTotal,
		DLQMessagesTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}
