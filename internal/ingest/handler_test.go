package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	"hookrelay/internal/delivery"
	"hookrelay/internal/filtering"
	"hookrelay/internal/logger"
	"hookrelay/internal/ratelimit"
	"hookrelay/internal/routing"
	"hookrelay/pkg/models"
)

type recordingPublisher struct {
	mu         sync.Mutex
	deliveries []models.Delivery
}

func (p *recordingPublisher) Publish(ctx context.Context, d models.Delivery) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliveries = append(p.deliveries, d)
	return nil
}

func (p *recordingPublisher) all() []models.Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Delivery(nil), p.deliveries...)
}

type fixture struct {
	router    *gin.Engine
	publisher *recordingPublisher
	filters   *filtering.Service
	routes    *routing.Service
}

func newFixture(t *testing.T, ingestCfg config.IngestConfig, rlCfg config.RateLimitConfig) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NopLogger()

	filterSvc, err := filtering.NewService(nil, config.FilteringConfig{}, log)
	require.NoError(t, err)
	filterSvc.SetFilters(nil)

	routeSvc, err := routing.NewService(nil, config.RoutingConfig{}, log)
	require.NoError(t, err)
	routeSvc.SetRoutes(nil)

	limiter := ratelimit.NewService(ratelimit.NewMemoryStore(), rlCfg, log)
	publisher := &recordingPublisher{}

	svc := NewService(
		NewHMACValidator(ingestCfg),
		limiter,
		filterSvc,
		routeSvc,
		publisher,
		NopRecorder{},
		log,
	)

	router := gin.New()
	NewHandler(svc, nil, ingestCfg, log).RegisterRoutes(router)

	return &fixture{
		router:    router,
		publisher: publisher,
		filters:   filterSvc,
		routes:    routeSvc,
	}
}

func defaultRateLimit() config.RateLimitConfig {
	return config.RateLimitConfig{
		Algorithm:     ratelimit.AlgorithmFixedWindow,
		DefaultLimit:  1000,
		WindowSeconds: 60,
	}
}

func (f *fixture) post(t *testing.T, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestWebhookDraftPullRequestIsDropped(t *testing.T) {
	f := newFixture(t, config.IngestConfig{}, defaultRateLimit())

	f.filters.SetFilters([]models.EventFilter{
		{
			ID:        "f-draft",
			Source:    "github",
			EventType: "pull_request",
			Conditions: []models.Condition{
				{Field: "payload.draft", Operator: models.OperatorEquals, Value: true},
			},
			Action:  models.FilterActionExclude,
			Enabled: true,
		},
	})
	f.routes.SetRoutes([]models.EventRoute{
		{ID: "r-1", TargetAgents: []string{"agentA", "agentB"}, Enabled: true},
	})

	w := f.post(t, "/webhook/github", map[string]interface{}{"draft": true},
		map[string]string{"X-GitHub-Event": "pull_request"})

	require.Equal(t, http.StatusAccepted, w.Code)

	var result Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "filtered", result.Status)
	assert.Zero(t, result.Deliveries)
	assert.Empty(t, f.publisher.all(), "dropped events produce zero deliveries")
}

func TestWebhookRoutesToEveryTargetAgent(t *testing.T) {
	f := newFixture(t, config.IngestConfig{}, defaultRateLimit())

	f.filters.SetFilters([]models.EventFilter{
		{
			ID:        "f-draft",
			Source:    "github",
			EventType: "pull_request",
			Conditions: []models.Condition{
				{Field: "payload.draft", Operator: models.OperatorEquals, Value: true},
			},
			Action:  models.FilterActionExclude,
			Enabled: true,
		},
	})
	f.routes.SetRoutes([]models.EventRoute{
		{
			ID: "r-1",
			SourceFilters: []models.EventFilter{
				{Source: "github", EventType: "pull_request"},
			},
			TargetAgents: []string{"agentA", "agentB"},
			Priority:     7,
			Enabled:      true,
		},
	})

	w := f.post(t, "/webhook/github", map[string]interface{}{"draft": false},
		map[string]string{"X-GitHub-Event": "pull_request"})

	require.Equal(t, http.StatusAccepted, w.Code)

	var result Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "queued", result.Status)
	assert.Equal(t, 2, result.Deliveries)

	deliveries := f.publisher.all()
	require.Len(t, deliveries, 2)
	agents := []string{deliveries[0].TargetAgent, deliveries[1].TargetAgent}
	assert.ElementsMatch(t, []string{"agentA", "agentB"}, agents)
	for _, d := range deliveries {
		assert.Equal(t, 7, d.Priority)
		assert.Equal(t, "pull_request", d.Event.Type)
	}
}

func TestWebhookRateLimitedWithRetryAfter(t *testing.T) {
	f := newFixture(t, config.IngestConfig{}, config.RateLimitConfig{
		Algorithm:     ratelimit.AlgorithmFixedWindow,
		DefaultLimit:  1,
		WindowSeconds: 60,
	})
	f.routes.SetRoutes([]models.EventRoute{
		{ID: "r-1", TargetAgents: []string{"agentA"}, Enabled: true},
	})

	w := f.post(t, "/webhook/github", map[string]interface{}{"n": 1}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.post(t, "/webhook/github", map[string]interface{}{"n": 2}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Len(t, f.publisher.all(), 1)
}

func TestWebhookInvalidSignatureRejected(t *testing.T) {
	cfg := config.IngestConfig{
		Sources: map[string]config.SourceConfig{
			"github": {Secret: "s3cret"},
		},
	}
	f := newFixture(t, cfg, defaultRateLimit())
	f.routes.SetRoutes([]models.EventRoute{
		{ID: "r-1", TargetAgents: []string{"agentA"}, Enabled: true},
	})

	// No signature at all.
	w := f.post(t, "/webhook/github", map[string]interface{}{"n": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Wrong signature.
	w = f.post(t, "/webhook/github", map[string]interface{}{"n": 1},
		map[string]string{constants.HeaderSignature: "deadbeef"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.publisher.all())

	// Correct signature.
	body, _ := json.Marshal(map[string]interface{}{"n": 1})
	w = f.post(t, "/webhook/github", map[string]interface{}{"n": 1},
		map[string]string{constants.HeaderSignature: delivery.Sign("s3cret", body)})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestWebhookMalformedJSONRejected(t *testing.T) {
	f := newFixture(t, config.IngestConfig{}, defaultRateLimit())

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type countingRecorder struct {
	mu        sync.Mutex
	received  int
	processed int
	filtered  int
	failed    int
}

func (r *countingRecorder) RecordEventReceived(ctx context.Context, source string) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordEventProcessed(ctx context.Context, source string) {
	r.mu.Lock()
	r.processed++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordEventFiltered(ctx context.Context, source string) {
	r.mu.Lock()
	r.filtered++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordEventFailed(ctx context.Context, source string) {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

func TestServiceNotifiesRecorderPerOutcome(t *testing.T) {
	log := logger.NopLogger()

	filterSvc, err := filtering.NewService(nil, config.FilteringConfig{}, log)
	require.NoError(t, err)
	filterSvc.SetFilters([]models.EventFilter{
		{
			ID:        "f-drop-pushes",
			Source:    "github",
			EventType: "push",
			Action:    models.FilterActionExclude,
			Enabled:   true,
		},
	})

	routeSvc, err := routing.NewService(nil, config.RoutingConfig{}, log)
	require.NoError(t, err)
	routeSvc.SetRoutes([]models.EventRoute{
		{ID: "r-1", TargetAgents: []string{"agentA"}, Enabled: true},
	})

	recorder := &countingRecorder{}
	svc := NewService(
		NewHMACValidator(config.IngestConfig{}),
		ratelimit.NewService(ratelimit.NewMemoryStore(), defaultRateLimit(), log),
		filterSvc,
		routeSvc,
		&recordingPublisher{},
		recorder,
		log,
	)
	ctx := context.Background()

	queuedHeaders := http.Header{}
	queuedHeaders.Set(constants.HeaderEventType, "pull_request")
	result, err := svc.ProcessWebhook(ctx, "github", "ip-1", queuedHeaders, []byte(`{"n":1}`))
	require.NoError(t, err)
	require.Equal(t, "queued", result.Status)

	filteredHeaders := http.Header{}
	filteredHeaders.Set(constants.HeaderEventType, "push")
	result, err = svc.ProcessWebhook(ctx, "github", "ip-1", filteredHeaders, []byte(`{"n":2}`))
	require.NoError(t, err)
	require.Equal(t, "filtered", result.Status)

	assert.Equal(t, 2, recorder.received)
	assert.Equal(t, 1, recorder.processed)
	assert.Equal(t, 1, recorder.filtered)
	assert.Equal(t, 0, recorder.failed)
}

func TestWebhookEventTypeFromHeader(t *testing.T) {
	f := newFixture(t, config.IngestConfig{}, defaultRateLimit())
	f.routes.SetRoutes([]models.EventRoute{
		{ID: "r-1", TargetAgents: []string{"agentA"}, Enabled: true},
	})

	w := f.post(t, "/webhook/github", map[string]interface{}{"n": 1},
		map[string]string{"X-GitHub-Event": "push"})
	require.Equal(t, http.StatusAccepted, w.Code)

	deliveries := f.publisher.all()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "push", deliveries[0].Event.Type)
}
