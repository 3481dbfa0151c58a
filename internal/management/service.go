package management

import (
	"context"
	"encoding/json"
	"sync"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	pkgerrors "hookrelay/pkg/errors"
	"hookrelay/pkg/models"
)

const (
	ruleTypeFilter = "filter"
	ruleTypeRoute  = "route"
)

type service struct {
	repo                Repository
	versioningRepo      VersioningRepository
	configEventProducer *ConfigEventProducer
	auditEnabled        bool
	rateLimitSettings   *RateLimitSettings
	rateLimitMu         sync.RWMutex
}

type ServiceOption func(*service)

func WithVersioning(versioningRepo VersioningRepository) ServiceOption {
	return func(s *service) {
		s.versioningRepo = versioningRepo
		s.auditEnabled = true
	}
}

func WithConfigEvents(configEventProducer *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.configEventProducer = configEventProducer
	}
}

func WithRateLimitSettings(cfg config.RateLimitConfig) ServiceOption {
	return func(s *service) {
		overrides := make(map[string]RateLimitOverride, len(cfg.Overrides))
		for key, o := range cfg.Overrides {
			overrides[key] = RateLimitOverride{Limit: o.Limit, WindowSeconds: o.WindowSeconds}
		}
		s.rateLimitSettings = &RateLimitSettings{
			Algorithm:     cfg.Algorithm,
			DefaultLimit:  cfg.DefaultLimit,
			WindowSeconds: cfg.WindowSeconds,
			BucketSize:    cfg.BucketSize,
			RefillRate:    cfg.RefillRate,
			Overrides:     overrides,
		}
	}
}

func NewService(repo Repository, opts ...ServiceOption) Service {
	s := &service{
		repo: repo,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateFilter(ctx context.Context, req CreateFilterRequest) (*models.EventFilter, error) {
	if err := ValidateCreateFilter(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	filter := &models.EventFilter{
		Name:       req.Name,
		Source:     req.Source,
		EventType:  req.EventType,
		Conditions: req.Conditions,
		Expression: req.Expression,
		Action:     req.Action,
		Transform:  req.Transform,
		Priority:   req.Priority,
		Enabled:    enabledValue(req.Enabled),
	}

	if err := s.repo.CreateFilter(ctx, filter); err != nil {
		return nil, s.wrapRepoError(err, "")
	}

	s.recordChange(ctx, ruleTypeFilter, filter.ID, models.ActionCreate, nil, filter)
	s.publishFilterEvent(ctx, models.ActionCreate, filter.ID)
	return filter, nil
}

func (s *service) ListFilters(ctx context.Context) ([]models.EventFilter, error) {
	filters, err := s.repo.ListFilters(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return filters, nil
}

func (s *service) GetFilter(ctx context.Context, id string) (*models.EventFilter, error) {
	filter, err := s.repo.GetFilter(ctx, id)
	if err != nil {
		return nil, s.wrapRepoError(err, id)
	}
	if filter == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return filter, nil
}

func (s *service) UpdateFilter(ctx context.Context, id string, req UpdateFilterRequest) (*models.EventFilter, error) {
	if err := ValidateUpdateFilter(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	filter, err := s.GetFilter(ctx, id)
	if err != nil {
		return nil, err
	}

	oldValue := toMap(filter)
	applyFilterUpdate(filter, req)

	if err := s.repo.UpdateFilter(ctx, filter); err != nil {
		return nil, s.wrapRepoError(err, id)
	}

	s.recordChange(ctx, ruleTypeFilter, filter.ID, models.ActionUpdate, oldValue, filter)
	s.publishFilterEvent(ctx, models.ActionUpdate, filter.ID)
	return filter, nil
}

func (s *service) DeleteFilter(ctx context.Context, id string) error {
	filter, err := s.GetFilter(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteFilter(ctx, id); err != nil {
		return s.wrapRepoError(err, id)
	}

	s.recordDeletion(ctx, ruleTypeFilter, id, toMap(filter))
	s.publishFilterEvent(ctx, models.ActionDelete, id)
	return nil
}

func (s *service) CreateRoute(ctx context.Context, req CreateRouteRequest) (*models.EventRoute, error) {
	if err := ValidateCreateRoute(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	route := &models.EventRoute{
		Name:           req.Name,
		SourceFilters:  req.SourceFilters,
		TargetAgents:   req.TargetAgents,
		Priority:       req.Priority,
		Transformation: req.Transformation,
		Enabled:        enabledValue(req.Enabled),
	}
	if req.RetryPolicy != nil {
		route.RetryPolicy = *req.RetryPolicy
	}

	if err := s.repo.CreateRoute(ctx, route); err != nil {
		return nil, s.wrapRepoError(err, "")
	}

	s.recordChange(ctx, ruleTypeRoute, route.ID, models.ActionCreate, nil, route)
	s.publishRouteEvent(ctx, models.ActionCreate, route.ID)
	return route, nil
}

func (s *service) ListRoutes(ctx context.Context) ([]models.EventRoute, error) {
	routes, err := s.repo.ListRoutes(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return routes, nil
}

func (s *service) GetRoute(ctx context.Context, id string) (*models.EventRoute, error) {
	route, err := s.repo.GetRoute(ctx, id)
	if err != nil {
		return nil, s.wrapRepoError(err, id)
	}
	if route == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return route, nil
}

func (s *service) UpdateRoute(ctx context.Context, id string, req UpdateRouteRequest) (*models.EventRoute, error) {
	if err := ValidateUpdateRoute(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	route, err := s.GetRoute(ctx, id)
	if err != nil {
		return nil, err
	}

	oldValue := toMap(route)
	applyRouteUpdate(route, req)

	if err := s.repo.UpdateRoute(ctx, route); err != nil {
		return nil, s.wrapRepoError(err, id)
	}

	s.recordChange(ctx, ruleTypeRoute, route.ID, models.ActionUpdate, oldValue, route)
	s.publishRouteEvent(ctx, models.ActionUpdate, route.ID)
	return route, nil
}

func (s *service) DeleteRoute(ctx context.Context, id string) error {
	route, err := s.GetRoute(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteRoute(ctx, id); err != nil {
		return s.wrapRepoError(err, id)
	}

	s.recordDeletion(ctx, ruleTypeRoute, id, toMap(route))
	s.publishRouteEvent(ctx, models.ActionDelete, id)
	return nil
}

func (s *service) GetRuleVersions(ctx context.Context, ruleID string) ([]RuleVersion, error) {
	if s.versioningRepo == nil {
		return nil, pkgerrors.ErrInternal.WithDetail("message", "versioning not enabled")
	}
	versions, err := s.versioningRepo.GetVersions(ctx, ruleID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return versions, nil
}

func (s *service) GetAuditLogs(ctx context.Context, ruleID *string, ruleType string, limit int) ([]AuditLog, error) {
	if s.versioningRepo == nil {
		return nil, pkgerrors.ErrInternal.WithDetail("message", "audit logging not enabled")
	}
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}
	logs, err := s.versioningRepo.GetAuditLogs(ctx, ruleID, ruleType, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return logs, nil
}

func (s *service) GetRateLimitSettings(ctx context.Context) (*RateLimitSettings, error) {
	s.rateLimitMu.RLock()
	defer s.rateLimitMu.RUnlock()

	if s.rateLimitSettings == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "rate limit settings not initialized")
	}
	return copyRateLimitSettings(s.rateLimitSettings), nil
}

func (s *service) UpdateRateLimitSettings(ctx context.Context, req UpdateRateLimitRequest) (*RateLimitSettings, error) {
	if err := ValidateRateLimitUpdate(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	s.rateLimitMu.Lock()
	defer s.rateLimitMu.Unlock()

	if s.rateLimitSettings == nil {
		s.rateLimitSettings = &RateLimitSettings{
			Algorithm:     "fixed_window",
			DefaultLimit:  constants.DefaultRateLimit,
			WindowSeconds: int(constants.DefaultRateLimitWindow.Seconds()),
		}
	}

	if req.Algorithm != nil {
		s.rateLimitSettings.Algorithm = *req.Algorithm
	}
	if req.DefaultLimit != nil {
		s.rateLimitSettings.DefaultLimit = *req.DefaultLimit
	}
	if req.WindowSeconds != nil {
		s.rateLimitSettings.WindowSeconds = *req.WindowSeconds
	}
	if req.BucketSize != nil {
		s.rateLimitSettings.BucketSize = *req.BucketSize
	}
	if req.RefillRate != nil {
		s.rateLimitSettings.RefillRate = *req.RefillRate
	}
	if req.Overrides != nil {
		s.rateLimitSettings.Overrides = *req.Overrides
	}

	if s.configEventProducer != nil {
		_ = s.configEventProducer.PublishRateLimitEvent(ctx, models.ActionUpdate, changedBy(ctx),
			toMap(s.rateLimitSettings))
	}

	return copyRateLimitSettings(s.rateLimitSettings), nil
}

func (s *service) wrapRepoError(err error, id string) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	if pkgerrors.IsConflict(err) {
		return err
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}

func (s *service) recordChange(ctx context.Context, ruleType, ruleID, action string, oldValue map[string]interface{}, rule interface{}) {
	if !s.auditEnabled || s.versioningRepo == nil {
		return
	}

	ruleJSON, err := json.Marshal(rule)
	if err != nil {
		return
	}

	version := 1
	if next, err := s.versioningRepo.GetNextVersion(ctx, ruleID); err == nil {
		version = next
	}

	_ = s.versioningRepo.CreateVersion(ctx, &RuleVersion{
		RuleID:    ruleID,
		RuleType:  ruleType,
		RuleData:  string(ruleJSON),
		Version:   version,
		ChangedBy: changedBy(ctx),
	})

	_ = s.versioningRepo.CreateAuditLog(ctx, &AuditLog{
		RuleID:    &ruleID,
		RuleType:  ruleType,
		Action:    action,
		OldValue:  oldValue,
		NewValue:  toMap(rule),
		ChangedBy: changedBy(ctx),
	})
}

func (s *service) recordDeletion(ctx context.Context, ruleType, ruleID string, oldValue map[string]interface{}) {
	if !s.auditEnabled || s.versioningRepo == nil {
		return
	}
	_ = s.versioningRepo.CreateAuditLog(ctx, &AuditLog{
		RuleID:    &ruleID,
		RuleType:  ruleType,
		Action:    models.ActionDelete,
		OldValue:  oldValue,
		ChangedBy: changedBy(ctx),
	})
}

func (s *service) publishFilterEvent(ctx context.Context, action, id string) {
	if s.configEventProducer != nil {
		_ = s.configEventProducer.PublishFilterEvent(ctx, action, id, changedBy(ctx))
	}
}

func (s *service) publishRouteEvent(ctx context.Context, action, id string) {
	if s.configEventProducer != nil {
		_ = s.configEventProducer.PublishRouteEvent(ctx, action, id, changedBy(ctx))
	}
}

func applyFilterUpdate(filter *models.EventFilter, req UpdateFilterRequest) {
	if req.Name != nil {
		filter.Name = *req.Name
	}
	if req.Source != nil {
		filter.Source = *req.Source
	}
	if req.EventType != nil {
		filter.EventType = *req.EventType
	}
	if req.Conditions != nil {
		filter.Conditions = *req.Conditions
	}
	if req.Expression != nil {
		filter.Expression = *req.Expression
	}
	if req.Action != nil {
		filter.Action = *req.Action
	}
	if req.Transform != nil {
		filter.Transform = req.Transform
	}
	if req.Priority != nil {
		filter.Priority = *req.Priority
	}
	if req.Enabled != nil {
		filter.Enabled = *req.Enabled
	}
}

func applyRouteUpdate(route *models.EventRoute, req UpdateRouteRequest) {
	if req.Name != nil {
		route.Name = *req.Name
	}
	if req.SourceFilters != nil {
		route.SourceFilters = *req.SourceFilters
	}
	if req.TargetAgents != nil {
		route.TargetAgents = *req.TargetAgents
	}
	if req.Priority != nil {
		route.Priority = *req.Priority
	}
	if req.Transformation != nil {
		route.Transformation = req.Transformation
	}
	if req.RetryPolicy != nil {
		route.RetryPolicy = *req.RetryPolicy
	}
	if req.Enabled != nil {
		route.Enabled = *req.Enabled
	}
}

func copyRateLimitSettings(settings *RateLimitSettings) *RateLimitSettings {
	out := *settings
	out.Overrides = make(map[string]RateLimitOverride, len(settings.Overrides))
	for key, o := range settings.Overrides {
		out.Overrides[key] = o
	}
	return &out
}

func toMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil
	}
	return result
}

func enabledValue(enabled *bool) bool {
	if enabled == nil {
		return true
	}
	return *enabled
}

func changedBy(ctx context.Context) string {
	if userID := ctx.Value("user_id"); userID != nil {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return "system"
}
