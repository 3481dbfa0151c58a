package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	"hookrelay/internal/logger"
	"hookrelay/pkg/circuitbreaker"
	"hookrelay/pkg/models"
)

// HTTPTransport POSTs the event to the agent's endpoint, signed with the
// agent's secret. Each agent gets its own circuit breaker so one flapping
// endpoint cannot burn delivery attempts for the others.
type HTTPTransport struct {
	client     *http.Client
	cbConfig   config.CircuitBreakerConfig
	breakers   map[string]*circuitbreaker.Wrapper
	breakersMu sync.Mutex
	logger     logger.Logger
}

func NewHTTPTransport(cfg config.DeliveryConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) *HTTPTransport {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultDeliveryTimeout
	}

	return &HTTPTransport{
		client:   &http.Client{Timeout: timeout},
		cbConfig: cbCfg,
		breakers: make(map[string]*circuitbreaker.Wrapper),
		logger:   log,
	}
}

func (t *HTTPTransport) Deliver(ctx context.Context, d models.Delivery, sub models.Subscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("agent %s has no endpoint", sub.AgentID)
	}

	if !t.cbConfig.Enabled {
		return t.push(ctx, d, sub)
	}

	breaker := t.breakerFor(sub.AgentID)
	_, err := breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, t.push(ctx, d, sub)
	})
	breaker.RecordRequest(err == nil)
	return err
}

func (t *HTTPTransport) push(ctx context.Context, d models.Delivery, sub models.Subscription) error {
	body, err := json.Marshal(d.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	now := time.Now()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(constants.HeaderSignature, Sign(sub.Secret, body))
	req.Header.Set(constants.HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(constants.HeaderEventType, d.Event.Type)
	req.Header.Set(constants.HeaderDelivery, d.ID)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery to %s failed: %w", sub.AgentID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("agent %s returned HTTP %d", sub.AgentID, resp.StatusCode)
	}

	t.logger.DebugwCtx(ctx, "Delivery pushed",
		"delivery_id", d.ID,
		"target_agent", sub.AgentID,
		"status", resp.StatusCode,
	)
	return nil
}

func (t *HTTPTransport) breakerFor(agentID string) *circuitbreaker.Wrapper {
	t.breakersMu.Lock()
	defer t.breakersMu.Unlock()

	if breaker, ok := t.breakers[agentID]; ok {
		return breaker
	}

	cfg := circuitbreaker.DefaultConfig("delivery-" + agentID)
	if t.cbConfig.MaxRequests > 0 {
		cfg.MaxRequests = t.cbConfig.MaxRequests
	}
	if t.cbConfig.Interval > 0 {
		cfg.Interval = t.cbConfig.Interval
	}
	if t.cbConfig.Timeout > 0 {
		cfg.Timeout = t.cbConfig.Timeout
	}

	breaker := circuitbreaker.NewWrapper(cfg)
	t.breakers[agentID] = breaker
	return breaker
}

// Sign computes the hex HMAC-SHA256 of payload under secret. The same
// scheme validates inbound webhooks and signs outbound pushes.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature compares a received signature against the expected one in
// constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
