package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hookrelay/internal/broker"
	"hookrelay/internal/logger"
	"hookrelay/pkg/errors"
	"hookrelay/pkg/models"
)

func errNotFound(id string) error {
	return errors.ErrNotFound.WithDetail("message", fmt.Sprintf("dead letter %q not found", id))
}

// Service owns the dead-letter store: the terminal parking lot for
// deliveries whose retry budget is spent. Entries are never retried
// automatically; replay is an explicit operator action.
type Service struct {
	repo     Repository
	producer broker.Producer
	topic    string
	logger   logger.Logger
	now      func() time.Time
}

func NewService(repo Repository, producer broker.Producer, topic string, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		producer: producer,
		topic:    topic,
		logger:   log,
		now:      time.Now,
	}
}

// Push parks a dead letter. Implements the redelivery manager's sink.
func (s *Service) Push(ctx context.Context, entry models.DeadLetterEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = s.now()
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		return err
	}

	s.logger.InfowCtx(ctx, "Dead letter stored",
		"dead_letter_id", entry.ID,
		"event_id", entry.EventID,
		"target_agent", entry.TargetAgent,
	)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (models.DeadLetterEntry, error) {
	entry, found, err := s.repo.Get(ctx, id)
	if err != nil {
		return entry, err
	}
	if !found {
		return entry, errNotFound(id)
	}
	return entry, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.DeadLetterEntry, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

// Replay re-publishes a dead letter onto the deliveries topic as a fresh
// delivery with a reset retry budget, and records when it was replayed. The
// entry stays in the store as the historical failure record.
func (s *Service) Replay(ctx context.Context, id string) error {
	entry, found, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return errNotFound(id)
	}

	delivery := models.Delivery{
		ID: uuid.New().String(),
		Event: models.EventData{
			ID:        entry.EventID,
			Source:    entry.Source,
			Type:      entry.Type,
			Timestamp: entry.FailedAt,
			Payload:   entry.Payload,
			Priority:  models.DefaultEventPriority,
		},
		TargetAgent: entry.TargetAgent,
		Priority:    models.DefaultEventPriority,
		RetryPolicy: models.DefaultRetryPolicy(),
		QueuedAt:    s.now(),
	}

	if err := s.producer.Publish(ctx, s.topic, delivery); err != nil {
		return fmt.Errorf("failed to republish dead letter %s: %w", id, err)
	}

	if err := s.repo.MarkReplayed(ctx, id, s.now()); err != nil {
		return err
	}

	s.logger.InfowCtx(ctx, "Dead letter replayed",
		"dead_letter_id", id,
		"event_id", entry.EventID,
		"target_agent", entry.TargetAgent,
		"new_delivery_id", delivery.ID,
	)
	return nil
}

// Purge deletes a dead letter permanently.
func (s *Service) Purge(ctx context.Context, id string) error {
	_, found, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return errNotFound(id)
	}
	return s.repo.Delete(ctx, id)
}
