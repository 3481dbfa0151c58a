package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	"hookrelay/internal/logger"
	"hookrelay/pkg/models"
)

type recordingTransport struct {
	mu        sync.Mutex
	delivered []models.Delivery
	failWith  error
}

func (t *recordingTransport) Deliver(ctx context.Context, d models.Delivery, sub models.Subscription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWith != nil {
		return t.failWith
	}
	t.delivered = append(t.delivered, d)
	return nil
}

func (t *recordingTransport) deliveredIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, len(t.delivered))
	for i, d := range t.delivered {
		ids[i] = d.ID
	}
	return ids
}

type recordingFailures struct {
	mu       sync.Mutex
	failures []models.Delivery
}

func (f *recordingFailures) HandleFailure(ctx context.Context, d models.Delivery, attemptErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, d)
	return nil
}

func (f *recordingFailures) RetryQueueSize(ctx context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures)
}

func registryWithAgents(agents ...string) *SubscriptionRegistry {
	r := NewSubscriptionRegistry()
	for _, agent := range agents {
		r.Register(models.Subscription{AgentID: agent, Endpoint: "http://example.invalid/" + agent})
	}
	return r
}

func TestProcessQueueDeliversInPriorityOrder(t *testing.T) {
	transport := &recordingTransport{}
	failures := &recordingFailures{}
	svc := NewService(registryWithAgents("agentA"), transport, failures, logger.NopLogger())
	ctx := context.Background()

	svc.Enqueue(ctx, models.Delivery{ID: "low", TargetAgent: "agentA", Priority: 1})
	svc.Enqueue(ctx, models.Delivery{ID: "high", TargetAgent: "agentA", Priority: 9})
	svc.Enqueue(ctx, models.Delivery{ID: "mid", TargetAgent: "agentA", Priority: 5})

	svc.ProcessQueue(ctx)

	assert.Equal(t, []string{"high", "mid", "low"}, transport.deliveredIDs())
	assert.Empty(t, failures.failures)
	assert.Equal(t, 0, svc.Stats(ctx).QueueSize)
}

func TestProcessQueueRoutesFailuresToHandler(t *testing.T) {
	transport := &recordingTransport{failWith: errors.New("agent down")}
	failures := &recordingFailures{}
	svc := NewService(registryWithAgents("agentA"), transport, failures, logger.NopLogger())
	ctx := context.Background()

	svc.Enqueue(ctx, models.Delivery{ID: "d-1", TargetAgent: "agentA", Priority: 5})
	svc.ProcessQueue(ctx)

	require.Len(t, failures.failures, 1)
	assert.Equal(t, "d-1", failures.failures[0].ID)
	// Failed deliveries are not re-queued immediately.
	assert.Equal(t, 0, svc.Stats(ctx).QueueSize)
	assert.Equal(t, 1, svc.Stats(ctx).RetryQueueSize)
}

func TestProcessQueueUnknownAgentIsAFailure(t *testing.T) {
	transport := &recordingTransport{}
	failures := &recordingFailures{}
	svc := NewService(NewSubscriptionRegistry(), transport, failures, logger.NopLogger())
	ctx := context.Background()

	svc.Enqueue(ctx, models.Delivery{ID: "d-1", TargetAgent: "ghost"})
	svc.ProcessQueue(ctx)

	assert.Empty(t, transport.delivered)
	require.Len(t, failures.failures, 1)
}

func TestProcessQueueConsultsSubscriptionFilters(t *testing.T) {
	registry := NewSubscriptionRegistry()
	registry.Register(models.Subscription{
		AgentID:  "agentA",
		Endpoint: "http://example.invalid/agentA",
		Filters: []models.EventFilter{
			{Source: "github", EventType: "pull_request"},
		},
	})
	transport := &recordingTransport{}
	failures := &recordingFailures{}
	svc := NewService(registry, transport, failures, logger.NopLogger())
	ctx := context.Background()

	svc.Enqueue(ctx, models.Delivery{
		ID:          "d-match",
		TargetAgent: "agentA",
		Event:       models.EventData{ID: "evt-1", Source: "github", Type: "pull_request"},
	})
	svc.Enqueue(ctx, models.Delivery{
		ID:          "d-skip",
		TargetAgent: "agentA",
		Event:       models.EventData{ID: "evt-2", Source: "gitlab", Type: "push"},
	})
	svc.ProcessQueue(ctx)

	// Non-matching deliveries are skipped, never failed or retried.
	assert.Equal(t, []string{"d-match"}, transport.deliveredIDs())
	assert.Empty(t, failures.failures)
}

func TestRedeliverSkipsNonMatchingSubscription(t *testing.T) {
	registry := NewSubscriptionRegistry()
	registry.Register(models.Subscription{
		AgentID:  "agentA",
		Endpoint: "http://example.invalid/agentA",
		Filters: []models.EventFilter{
			{Source: "github"},
		},
	})
	transport := &recordingTransport{failWith: errors.New("agent down")}
	svc := NewService(registry, transport, &recordingFailures{}, logger.NopLogger())

	d := models.Delivery{
		ID:          "d-stale",
		TargetAgent: "agentA",
		Event:       models.EventData{ID: "evt-1", Source: "gitlab", Type: "push"},
	}
	assert.NoError(t, svc.Redeliver(context.Background(), d))
}

func TestRegistryFromConfigCarriesFilters(t *testing.T) {
	registry := NewSubscriptionRegistryFromConfig(config.DeliveryConfig{
		Agents: map[string]config.AgentConfig{
			"ci-agent": {
				Endpoint: "http://ci.internal/hooks",
				Filters: []config.AgentFilterConfig{
					{Source: "github", EventType: "push"},
				},
			},
		},
	})

	sub, ok := registry.Get("ci-agent")
	require.True(t, ok)
	require.Len(t, sub.Filters, 1)
	assert.Equal(t, "github", sub.Filters[0].Source)
	assert.Equal(t, "push", sub.Filters[0].EventType)
}

func TestStatsCountsSubscribers(t *testing.T) {
	registry := registryWithAgents("agentA", "agentB")
	svc := NewService(registry, &recordingTransport{}, &recordingFailures{}, logger.NopLogger())

	stats := svc.Stats(context.Background())
	assert.Equal(t, 2, stats.SubscriberCount)

	registry.Unregister("agentB")
	assert.Equal(t, 1, svc.Stats(context.Background()).SubscriberCount)
}

func TestRunDrainsOnEnqueue(t *testing.T) {
	transport := &recordingTransport{}
	svc := NewService(registryWithAgents("agentA"), transport, &recordingFailures{}, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx)
		close(done)
	}()

	svc.Enqueue(ctx, models.Delivery{ID: "d-1", TargetAgent: "agentA"})

	require.Eventually(t, func() bool {
		return len(transport.deliveredIDs()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestHTTPTransportSignsAndPosts(t *testing.T) {
	var (
		gotSignature string
		gotEventType string
		gotDelivery  string
		gotBody      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(constants.HeaderSignature)
		gotEventType = r.Header.Get(constants.HeaderEventType)
		gotDelivery = r.Header.Get(constants.HeaderDelivery)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := NewHTTPTransport(config.DeliveryConfig{TimeoutSeconds: 5}, config.CircuitBreakerConfig{}, logger.NopLogger())
	d := models.Delivery{
		ID: "d-1",
		Event: models.EventData{
			ID:     "evt-1",
			Source: "github",
			Type:   "pull_request",
		},
		TargetAgent: "agentA",
	}
	sub := models.Subscription{AgentID: "agentA", Endpoint: server.URL, Secret: "s3cret"}

	require.NoError(t, transport.Deliver(context.Background(), d, sub))
	assert.Equal(t, "pull_request", gotEventType)
	assert.Equal(t, "d-1", gotDelivery)
	assert.Equal(t, Sign("s3cret", gotBody), gotSignature)
	assert.True(t, VerifySignature("s3cret", gotBody, gotSignature))
}

func TestHTTPTransportErrorStatusIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	transport := NewHTTPTransport(config.DeliveryConfig{}, config.CircuitBreakerConfig{}, logger.NopLogger())
	d := models.Delivery{ID: "d-1", TargetAgent: "agentA"}
	sub := models.Subscription{AgentID: "agentA", Endpoint: server.URL}

	err := transport.Deliver(context.Background(), d, sub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPTransportNoEndpoint(t *testing.T) {
	transport := NewHTTPTransport(config.DeliveryConfig{}, config.CircuitBreakerConfig{}, logger.NopLogger())
	err := transport.Deliver(context.Background(), models.Delivery{}, models.Subscription{AgentID: "agentA"})
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"action":"opened"}`)
	sig := Sign("secret", payload)

	assert.True(t, VerifySignature("secret", payload, sig))
	assert.False(t, VerifySignature("other", payload, sig))
	assert.False(t, VerifySignature("secret", []byte("tampered"), sig))
}
