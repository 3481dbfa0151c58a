package filtering

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	"hookrelay/internal/logger"
	"hookrelay/pkg/cel"
	"hookrelay/pkg/metrics"
	"hookrelay/pkg/models"
	"hookrelay/pkg/tracing"
)

type errorHandlingStatus int

const (
	errorHandlingDeny errorHandlingStatus = iota
	errorHandlingSkip
)

// Service evaluates the configured filter set against inbound events.
// Filters are held in memory and refreshed from storage on a ticker and on
// config-update events.
type Service struct {
	repo      Repository
	filters   []models.EventFilter
	filtersMu sync.RWMutex
	cfg       config.FilteringConfig
	evaluator *cel.Evaluator
	logger    logger.Logger
}

func NewService(repo Repository, cfg config.FilteringConfig, log logger.Logger) (*Service, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Service{
		repo:      repo,
		cfg:       cfg,
		filters:   make([]models.EventFilter, 0),
		evaluator: evaluator,
		logger:    log,
	}, nil
}

// FilterEvent runs the event through the filters scoped to its source and
// type, in descending priority with exact-scope filters ahead of wildcard
// ones at equal priority. A matching exclude drops the event immediately. A
// matching transform mutates the event in place and evaluation continues. A
// matching include admits the event immediately, shielding it from
// lower-priority excludes. Evaluation errors fall back per configuration,
// allowing by default so a broken filter cannot blackhole traffic.
//
// Returns whether the event proceeds and the IDs of the filters that matched.
func (s *Service) FilterEvent(ctx context.Context, event *models.EventData) (bool, []string, error) {
	ctx, span := tracing.GetTracer("ingest-service").Start(ctx, "filtering.filter_event")
	defer span.End()

	filters := s.filtersForEvent(event.Source, event.Type)
	matched := make([]string, 0, len(filters))
	start := time.Now()
	status := "passed"

	for _, filter := range filters {
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}

		matches, err := s.matches(ctx, filter, *event)
		if err != nil {
			if s.handleEvaluationError(ctx, filter, err) == errorHandlingDeny {
				s.recordMetrics(time.Since(start), "excluded")
				return false, matched, nil
			}
			continue
		}
		if !matches {
			continue
		}

		matched = append(matched, filter.ID)

		switch filter.Action {
		case models.FilterActionExclude:
			s.logger.DebugwCtx(ctx, "Filter excluded event",
				"filter_id", filter.ID,
				"filter_name", filter.Name,
			)
			s.recordMetrics(time.Since(start), "excluded")
			return false, matched, nil

		case models.FilterActionTransform:
			if err := s.applyTransform(ctx, filter, event); err != nil {
				if s.handleEvaluationError(ctx, filter, err) == errorHandlingDeny {
					s.recordMetrics(time.Since(start), "excluded")
					return false, matched, nil
				}
				continue
			}
			status = "transformed"

		case models.FilterActionInclude:
			s.recordMetrics(time.Since(start), status)
			return true, matched, nil
		}
	}

	s.recordMetrics(time.Since(start), status)
	return true, matched, nil
}

// filtersForEvent returns the filters scoped to (source, eventType) ordered
// for evaluation: priority descending, exact scopes before wildcards at
// equal priority.
func (s *Service) filtersForEvent(source, eventType string) []models.EventFilter {
	s.filtersMu.RLock()
	defer s.filtersMu.RUnlock()

	scoped := make([]models.EventFilter, 0, len(s.filters))
	for _, filter := range s.filters {
		if filter.Enabled && filter.MatchesScope(source, eventType) {
			scoped = append(scoped, filter)
		}
	}

	sort.SliceStable(scoped, func(i, j int) bool {
		if scoped[i].Priority != scoped[j].Priority {
			return scoped[i].Priority > scoped[j].Priority
		}
		return scoped[i].IsExact() && !scoped[j].IsExact()
	})

	return scoped
}

func (s *Service) matches(ctx context.Context, filter models.EventFilter, event models.EventData) (bool, error) {
	ok, err := EvaluateConditions(event, filter.Conditions)
	if err != nil || !ok {
		return false, err
	}

	if filter.Expression == "" {
		return true, nil
	}
	return s.evaluator.EvaluateFilter(ctx, filter.Expression, event)
}

func (s *Service) applyTransform(ctx context.Context, filter models.EventFilter, event *models.EventData) error {
	if err := ApplyTransform(ctx, s.evaluator, filter.Transform, event); err != nil {
		return err
	}

	s.logger.DebugwCtx(ctx, "Filter transformed event",
		"filter_id", filter.ID,
		"filter_name", filter.Name,
	)
	return nil
}

func (s *Service) handleEvaluationError(ctx context.Context, filter models.EventFilter, err error) errorHandlingStatus {
	s.logger.ErrorwCtx(ctx, "Filter evaluation error",
		"filter_id", filter.ID,
		"filter_name", filter.Name,
		"error", err,
	)

	switch s.cfg.Fallback.OnError {
	case constants.FallbackDeny:
		metrics.FallbackUsageTotal.WithLabelValues("filtering", "deny_on_error", "evaluation_error").Inc()
		s.logger.WarnwCtx(ctx, "Evaluation error, dropping event (fallback: deny)",
			"filter_id", filter.ID,
		)
		return errorHandlingDeny
	default:
		metrics.FallbackUsageTotal.WithLabelValues("filtering", "allow_on_error", "evaluation_error").Inc()
		s.logger.WarnwCtx(ctx, "Evaluation error, skipping filter (fallback: allow)",
			"filter_id", filter.ID,
		)
		return errorHandlingSkip
	}
}

func (s *Service) recordMetrics(duration time.Duration, status string) {
	metrics.EventsFilteredTotal.WithLabelValues(status).Inc()
	metrics.ObserveFilteringDuration(duration, status)
}

// SetFilters replaces the in-memory filter set. Exposed for tests and for
// deployments without a database-backed repository.
func (s *Service) SetFilters(filters []models.EventFilter) {
	s.filtersMu.Lock()
	s.filters = filters
	s.filtersMu.Unlock()
	metrics.SetFilteringActiveRules(len(filters))
}

func (s *Service) ReloadRules(ctx context.Context, skipJitter ...bool) error {
	shouldSkipJitter := len(skipJitter) > 0 && skipJitter[0]

	if err := s.applyJitter(ctx, shouldSkipJitter); err != nil {
		return err
	}

	filters, err := s.repo.GetActiveFilters(ctx)
	if err != nil {
		return err
	}

	s.SetFilters(filters)
	s.logger.InfowCtx(ctx, "Successfully reloaded filters",
		"filter_count", len(filters),
	)
	return nil
}

func (s *Service) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || s.cfg.Reload.JitterMaxMilliseconds == 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(s.cfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	s.logger.DebugwCtx(ctx, "Reload scheduled with jitter",
		"jitter_ms", jitter.Milliseconds(),
	)

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) StartReloader(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(s.cfg.Reload.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	if err := s.ReloadRules(ctx, true); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to reload filters",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.ReloadRules(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload filters",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
