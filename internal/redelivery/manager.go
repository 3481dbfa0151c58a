package redelivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hookrelay/internal/constants"
	"hookrelay/internal/logger"
	"hookrelay/pkg/errors"
	"hookrelay/pkg/metrics"
	"hookrelay/pkg/models"
	"hookrelay/pkg/retry"
)

// Redeliverer attempts one delivery outside the normal queue path. The
// dispatch delivery service implements it.
type Redeliverer interface {
	Redeliver(ctx context.Context, d models.Delivery) error
}

// DeadLetterSink receives deliveries whose retry budget is spent.
type DeadLetterSink interface {
	Push(ctx context.Context, entry models.DeadLetterEntry) error
}

// Manager drives the retry state machine:
// pending -> attempt -> delivered (removed) | retry-scheduled -> pending | dead-lettered.
// There is no blocking sleep; due events are picked up by the sweeper or by
// an explicit RetryFailedEvent call.
type Manager struct {
	repo          Repository
	sink          DeadLetterSink
	redeliverer   Redeliverer
	redelivererMu sync.RWMutex
	sweepInterval time.Duration
	logger        logger.Logger
	now           func() time.Time
}

func NewManager(repo Repository, sink DeadLetterSink, sweepInterval time.Duration, log logger.Logger) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = constants.DefaultRetrySweepInterval
	}
	return &Manager{
		repo:          repo,
		sink:          sink,
		sweepInterval: sweepInterval,
		logger:        log,
		now:           time.Now,
	}
}

// SetRedeliverer wires the delivery service in after construction; the two
// reference each other.
func (m *Manager) SetRedeliverer(r Redeliverer) {
	m.redelivererMu.Lock()
	m.redeliverer = r
	m.redelivererMu.Unlock()
}

// SetClock overrides the manager clock. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// HandleFailure records a failed delivery attempt. The first failure creates
// the retry entry; later ones update it. Once the attempt count reaches the
// policy's budget the delivery dead-letters and leaves the retry table.
func (m *Manager) HandleFailure(ctx context.Context, d models.Delivery, attemptErr error) error {
	now := m.now()

	ev, found, err := m.repo.Get(ctx, d.ID)
	if err != nil {
		return err
	}

	if !found {
		maxAttempts := d.RetryPolicy.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = models.DefaultRetryPolicy().MaxAttempts
		}
		ev = models.RetryableEvent{
			ID:            d.ID,
			OriginalEvent: d.Event,
			TargetAgent:   d.TargetAgent,
			RouteID:       d.RouteID,
			MaxAttempts:   maxAttempts,
			RetryPolicy:   d.RetryPolicy,
			CreatedAt:     now,
		}
	}

	ev.AttemptCount++
	ev.LastError = attemptErr.Error()
	ev.UpdatedAt = now

	if ev.Exhausted() {
		return m.deadLetter(ctx, ev)
	}

	ev.NextRetryAt = now.Add(retry.NextRetryDelay(ev.RetryPolicy, ev.AttemptCount))
	if err := m.repo.Save(ctx, ev); err != nil {
		return err
	}

	metrics.RetryScheduledTotal.WithLabelValues(ev.TargetAgent).Inc()
	m.updateDepth(ctx)
	m.logger.InfowCtx(ctx, "Delivery scheduled for retry",
		"delivery_id", ev.ID,
		"target_agent", ev.TargetAgent,
		"attempt", ev.AttemptCount,
		"max_attempts", ev.MaxAttempts,
		"next_retry_at", ev.NextRetryAt,
		"error", attemptErr,
	)
	return nil
}

// RetryFailedEvent attempts redelivery of one retry-table entry. Unknown or
// not-yet-due IDs fail with a validation error. Exhausted entries move to
// the dead-letter store; that transition is terminal.
func (m *Manager) RetryFailedEvent(ctx context.Context, id string) error {
	ev, found, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return errors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown retry id %q", id))
	}

	now := m.now()
	if ev.Exhausted() {
		return m.deadLetter(ctx, ev)
	}
	if !ev.Due(now) {
		return errors.ErrValidation.WithDetail("message",
			fmt.Sprintf("retry %q not due until %s", id, ev.NextRetryAt.Format(time.RFC3339)))
	}

	m.redelivererMu.RLock()
	redeliverer := m.redeliverer
	m.redelivererMu.RUnlock()
	if redeliverer == nil {
		return errors.ErrInternal.WithDetail("message", "no redeliverer configured")
	}

	attemptErr := redeliverer.Redeliver(ctx, m.deliveryFrom(ev))
	if attemptErr == nil {
		if err := m.repo.Delete(ctx, id); err != nil {
			return err
		}
		m.updateDepth(ctx)
		m.logger.InfowCtx(ctx, "Redelivery succeeded",
			"delivery_id", ev.ID,
			"target_agent", ev.TargetAgent,
			"attempts", ev.AttemptCount,
		)
		return nil
	}

	ev.AttemptCount++
	ev.LastError = attemptErr.Error()
	ev.UpdatedAt = now

	if ev.Exhausted() {
		return m.deadLetter(ctx, ev)
	}

	ev.NextRetryAt = now.Add(retry.NextRetryDelay(ev.RetryPolicy, ev.AttemptCount))
	if err := m.repo.Save(ctx, ev); err != nil {
		return err
	}

	metrics.RetryScheduledTotal.WithLabelValues(ev.TargetAgent).Inc()
	m.logger.WarnwCtx(ctx, "Redelivery failed, rescheduled",
		"delivery_id", ev.ID,
		"target_agent", ev.TargetAgent,
		"attempt", ev.AttemptCount,
		"next_retry_at", ev.NextRetryAt,
		"error", attemptErr,
	)
	return nil
}

func (m *Manager) deadLetter(ctx context.Context, ev models.RetryableEvent) error {
	entry := models.DeadLetterEntry{
		ID:           ev.ID,
		EventID:      ev.OriginalEvent.ID,
		Source:       ev.OriginalEvent.Source,
		Type:         ev.OriginalEvent.Type,
		TargetAgent:  ev.TargetAgent,
		Payload:      ev.OriginalEvent.Payload,
		Error:        ev.LastError,
		AttemptCount: ev.AttemptCount,
		MaxAttempts:  ev.MaxAttempts,
		FailedAt:     m.now(),
	}

	if err := m.sink.Push(ctx, entry); err != nil {
		return fmt.Errorf("failed to dead-letter delivery %s: %w", ev.ID, err)
	}
	if err := m.repo.Delete(ctx, ev.ID); err != nil {
		return err
	}

	metrics.DeadLetterTotal.WithLabelValues(ev.OriginalEvent.Source, ev.TargetAgent).Inc()
	m.updateDepth(ctx)
	m.logger.ErrorwCtx(ctx, "Delivery dead-lettered",
		"delivery_id", ev.ID,
		"event_id", ev.OriginalEvent.ID,
		"target_agent", ev.TargetAgent,
		"attempts", ev.AttemptCount,
		"last_error", ev.LastError,
	)
	return nil
}

// Sweep retries every due entry once. Individual failures are logged and do
// not stop the pass.
func (m *Manager) Sweep(ctx context.Context) error {
	events, err := m.repo.List(ctx)
	if err != nil {
		return err
	}

	now := m.now()
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ev.Due(now) && !ev.Exhausted() {
			continue
		}
		if err := m.RetryFailedEvent(ctx, ev.ID); err != nil && !errors.IsValidation(err) {
			m.logger.ErrorwCtx(ctx, "Sweep retry failed",
				"delivery_id", ev.ID,
				"error", err,
			)
		}
	}
	return nil
}

// StartSweeper re-runs Sweep on a fixed interval until the context ends.
func (m *Manager) StartSweeper(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.ErrorwCtx(ctx, "Retry sweep failed",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RetryQueueSize reports the retry-table depth, zero on storage errors.
func (m *Manager) RetryQueueSize(ctx context.Context) int {
	n, err := m.repo.Count(ctx)
	if err != nil {
		m.logger.WarnwCtx(ctx, "Failed to count retry table",
			"error", err,
		)
		return 0
	}
	return n
}

func (m *Manager) deliveryFrom(ev models.RetryableEvent) models.Delivery {
	return models.Delivery{
		ID:          ev.ID,
		Event:       ev.OriginalEvent,
		TargetAgent: ev.TargetAgent,
		RouteID:     ev.RouteID,
		Priority:    ev.OriginalEvent.Priority,
		RetryPolicy: ev.RetryPolicy,
		QueuedAt:    ev.CreatedAt,
	}
}

func (m *Manager) updateDepth(ctx context.Context) {
	metrics.SetRetryQueueDepth(m.RetryQueueSize(ctx))
}
