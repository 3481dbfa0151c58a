package routing

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	"hookrelay/internal/filtering"
	"hookrelay/internal/logger"
	"hookrelay/pkg/cel"
	"hookrelay/pkg/metrics"
	"hookrelay/pkg/models"
	"hookrelay/pkg/tracing"
)

// Service turns one filtered event into zero or more deliveries, one per
// (matching route, target agent) pair. Routes are held in memory and
// refreshed the same way the filter set is.
type Service struct {
	repo      Repository
	routes    []models.EventRoute
	routesMu  sync.RWMutex
	cfg       config.RoutingConfig
	evaluator *cel.Evaluator
	logger    logger.Logger
	now       func() time.Time
}

func NewService(repo Repository, cfg config.RoutingConfig, log logger.Logger) (*Service, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Service{
		repo:      repo,
		cfg:       cfg,
		routes:    make([]models.EventRoute, 0),
		evaluator: evaluator,
		logger:    log,
		now:       time.Now,
	}, nil
}

// RouteEvent evaluates enabled routes in descending priority and produces
// one delivery per (route, target agent) pair. Each delivery gets its own
// clone of the event so one target's transformation or failure cannot leak
// into another's. Route match errors skip the route, never drop the event.
func (s *Service) RouteEvent(ctx context.Context, event models.EventData) ([]models.Delivery, error) {
	ctx, span := tracing.GetTracer("ingest-service").Start(ctx, "routing.route_event")
	defer span.End()

	routes := s.getActiveRoutes()
	deliveries := make([]models.Delivery, 0)

	for _, route := range routes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matches, err := s.routeMatches(ctx, route, event)
		if err != nil {
			metrics.FallbackUsageTotal.WithLabelValues("routing", "skip_on_error", "match_error").Inc()
			s.logger.ErrorwCtx(ctx, "Route match error, skipping route",
				"route_id", route.ID,
				"route_name", route.Name,
				"error", err,
			)
			continue
		}
		if !matches {
			continue
		}

		for _, agent := range route.TargetAgents {
			delivery, err := s.buildDelivery(ctx, route, agent, event)
			if err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to build delivery",
					"route_id", route.ID,
					"target_agent", agent,
					"error", err,
				)
				continue
			}
			deliveries = append(deliveries, delivery)
		}
	}

	status := "matched"
	if len(deliveries) == 0 {
		status = "unmatched"
	}
	metrics.EventsRoutedTotal.WithLabelValues(status).Inc()
	s.logger.DebugwCtx(ctx, "Event routed",
		"event_id", event.ID,
		"deliveries", len(deliveries),
	)
	return deliveries, nil
}

// routeMatches reports whether any of the route's source filters match the
// event. Routes without source filters match everything.
func (s *Service) routeMatches(ctx context.Context, route models.EventRoute, event models.EventData) (bool, error) {
	if len(route.SourceFilters) == 0 {
		return true, nil
	}

	for _, filter := range route.SourceFilters {
		if !filter.MatchesScope(event.Source, event.Type) {
			continue
		}
		ok, err := filtering.EvaluateConditions(event, filter.Conditions)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		if filter.Expression != "" {
			ok, err = s.evaluator.EvaluateFilter(ctx, filter.Expression, event)
			if err != nil || !ok {
				continue
			}
		}
		return true, nil
	}
	return false, nil
}

func (s *Service) buildDelivery(ctx context.Context, route models.EventRoute, agent string, event models.EventData) (models.Delivery, error) {
	clone := event.Clone()

	if err := filtering.ApplyTransform(ctx, s.evaluator, route.Transformation, &clone); err != nil {
		return models.Delivery{}, err
	}

	queuedAt := s.now()
	clone.Priority = route.Priority
	clone.SetMetadata(constants.MetadataKeyTargetAgent, agent)
	clone.SetMetadata(constants.MetadataKeyRouteID, route.ID)
	clone.SetMetadata(constants.MetadataKeyQueuedAt, queuedAt.Format(time.RFC3339Nano))

	return models.Delivery{
		ID:          uuid.New().String(),
		Event:       clone,
		TargetAgent: agent,
		RouteID:     route.ID,
		Priority:    route.Priority,
		RetryPolicy: route.EffectiveRetryPolicy(),
		QueuedAt:    queuedAt,
	}, nil
}

func (s *Service) getActiveRoutes() []models.EventRoute {
	s.routesMu.RLock()
	defer s.routesMu.RUnlock()

	routes := make([]models.EventRoute, len(s.routes))
	copy(routes, s.routes)
	return routes
}

// SetRoutes replaces the in-memory route set, keeping it sorted by
// descending priority. Exposed for tests and config-driven deployments.
func (s *Service) SetRoutes(routes []models.EventRoute) {
	sorted := make([]models.EventRoute, 0, len(routes))
	for _, route := range routes {
		if route.Enabled {
			sorted = append(sorted, route)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	s.routesMu.Lock()
	s.routes = sorted
	s.routesMu.Unlock()
	metrics.SetRoutingActiveRoutes(len(sorted))
}

func (s *Service) ReloadRules(ctx context.Context, skipJitter ...bool) error {
	shouldSkipJitter := len(skipJitter) > 0 && skipJitter[0]

	if err := s.applyJitter(ctx, shouldSkipJitter); err != nil {
		return err
	}

	routes, err := s.repo.GetActiveRoutes(ctx)
	if err != nil {
		return err
	}

	s.SetRoutes(routes)
	s.logger.InfowCtx(ctx, "Successfully reloaded routes",
		"route_count", len(routes),
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
		s.logger.ErrorwCtx(ctx, "Failed to reload routes",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.ReloadRules(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload routes",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
