package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/constants"
	"hookrelay/internal/delivery"
	"hookrelay/internal/management"
	"hookrelay/pkg/models"
)

const (
	ingestServiceURL   = "http://localhost:8081"
	kafkaBroker        = "localhost:29092"
	deliveriesTopic    = "deliveries"
	webhookSecret      = "e2e-secret"
	messageWaitTimeout = 30 * time.Second
	// configPropagation covers rule reload after a management write.
	configPropagation = 3 * time.Second
)

func TestWebhookFlowsToDeliveriesTopic(t *testing.T) {
	routeID := createRoute(t, management.CreateRouteRequest{
		Name:         "e2e_flow_route",
		TargetAgents: []string{"ci-agent"},
		Priority:     7,
		Enabled:      boolPtr(true),
	})
	defer deleteRoute(t, routeID)

	time.Sleep(configPropagation)

	marker := uuid.New().String()
	result := sendWebhook(t, "github", "pull_request", map[string]interface{}{
		"action": "opened",
		"marker": marker,
	})
	require.Equal(t, "queued", result.Status)
	require.Equal(t, 1, result.Deliveries)

	d := waitForDelivery(t, result.EventID)
	require.NotNil(t, d, "delivery should reach the deliveries topic")
	assert.Equal(t, "ci-agent", d.TargetAgent)
	assert.Equal(t, routeID, d.RouteID)
	assert.Equal(t, 7, d.Priority)
	assert.Equal(t, "pull_request", d.Event.Type)
	assert.Equal(t, marker, d.Event.Payload["marker"])
}

func TestWebhookExcludedByFilter(t *testing.T) {
	filterID := createFilter(t, management.CreateFilterRequest{
		Name:      "e2e_drop_drafts_flow",
		Source:    "github",
		EventType: "pull_request",
		Action:    models.FilterActionExclude,
		Conditions: []models.Condition{
			{Field: "payload.pull_request.draft", Operator: models.OperatorEquals, Value: true},
		},
		Priority: 10,
		Enabled:  boolPtr(true),
	})
	defer deleteFilter(t, filterID)

	routeID := createRoute(t, management.CreateRouteRequest{
		Name:         "e2e_filtered_route",
		TargetAgents: []string{"ci-agent"},
		Enabled:      boolPtr(true),
	})
	defer deleteRoute(t, routeID)

	time.Sleep(configPropagation)

	result := sendWebhook(t, "github", "pull_request", map[string]interface{}{
		"action":       "opened",
		"pull_request": map[string]interface{}{"draft": true},
	})
	assert.Equal(t, "filtered", result.Status)
	assert.Equal(t, 0, result.Deliveries)

	notDelivered := tryGetDelivery(t, result.EventID)
	assert.Nil(t, notDelivered, "filtered event must not reach the deliveries topic")
}

func TestWebhookFanOutToMultipleAgents(t *testing.T) {
	routeID := createRoute(t, management.CreateRouteRequest{
		Name:         "e2e_fanout_route",
		TargetAgents: []string{"ci-agent", "review-agent"},
		Priority:     5,
		Enabled:      boolPtr(true),
	})
	defer deleteRoute(t, routeID)

	time.Sleep(configPropagation)

	result := sendWebhook(t, "github", "push", map[string]interface{}{
		"ref": "refs/heads/main",
	})
	require.Equal(t, "queued", result.Status)
	require.Equal(t, 2, result.Deliveries)

	deliveries := collectDeliveries(t, result.EventID, 2)
	require.Len(t, deliveries, 2)

	agents := []string{deliveries[0].TargetAgent, deliveries[1].TargetAgent}
	assert.ElementsMatch(t, []string{"ci-agent", "review-agent"}, agents)
}

func TestWebhookRuleUpdatePropagates(t *testing.T) {
	routeID := createRoute(t, management.CreateRouteRequest{
		Name:         "e2e_update_route",
		TargetAgents: []string{"ci-agent"},
		Enabled:      boolPtr(true),
	})
	defer deleteRoute(t, routeID)

	filterID := createFilter(t, management.CreateFilterRequest{
		Name:    "e2e_update_filter",
		Source:  "github",
		Action:  models.FilterActionInclude,
		Enabled: boolPtr(true),
	})
	defer deleteFilter(t, filterID)

	time.Sleep(configPropagation)

	first := sendWebhook(t, "github", "push", map[string]interface{}{"seq": 1})
	require.Equal(t, "queued", first.Status)

	// Flip the filter to exclude everything from the source.
	action := models.FilterActionExclude
	_ = updateFilter(t, filterID, management.UpdateFilterRequest{Action: &action})

	time.Sleep(configPropagation)

	second := sendWebhook(t, "github", "push", map[string]interface{}{"seq": 2})
	assert.Equal(t, "filtered", second.Status, "rule change should take effect without a restart")
}

type webhookResult struct {
	EventID    string `json:"event_id"`
	Status     string `json:"status"`
	Deliveries int    `json:"deliveries"`
}

func sendWebhook(t *testing.T, source, eventType string, payload map[string]interface{}) webhookResult {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/webhook/%s", ingestServiceURL, source),
		bytes.NewBuffer(body),
	)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(constants.HeaderEventType, eventType)
	req.Header.Set(constants.HeaderSignature, delivery.Sign(webhookSecret, body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result webhookResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func waitForDelivery(t *testing.T, eventID string) *models.Delivery {
	t.Helper()
	deliveries := readDeliveries(t, eventID, 1, messageWaitTimeout)
	if len(deliveries) == 0 {
		return nil
	}
	return &deliveries[0]
}

func collectDeliveries(t *testing.T, eventID string, want int) []models.Delivery {
	t.Helper()
	return readDeliveries(t, eventID, want, messageWaitTimeout)
}

func tryGetDelivery(t *testing.T, eventID string) *models.Delivery {
	t.Helper()
	deliveries := readDeliveries(t, eventID, 1, 10*time.Second)
	if len(deliveries) == 0 {
		return nil
	}
	return &deliveries[0]
}

func readDeliveries(t *testing.T, eventID string, want int, timeout time.Duration) []models.Delivery {
	t.Helper()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{kafkaBroker},
		Topic:          deliveriesTopic,
		GroupID:        fmt.Sprintf("e2e-reader-%s", uuid.New().String()),
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        2 * time.Second,
	})
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var found []models.Delivery
	for len(found) < want {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			break
		}

		var d models.Delivery
		if err := json.Unmarshal(msg.Value, &d); err != nil {
			_ = reader.CommitMessages(ctx, msg)
			continue
		}
		_ = reader.CommitMessages(ctx, msg)

		if d.Event.ID == eventID {
			found = append(found, d)
		}
	}
	return found
}
