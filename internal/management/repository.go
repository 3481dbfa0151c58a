package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "hookrelay/pkg/errors"
	"hookrelay/pkg/models"
)

// Repository persists the filter and route rule sets the pipeline services
// read. The management service is the only writer.
type Repository interface {
	CreateFilter(ctx context.Context, filter *models.EventFilter) error
	ListFilters(ctx context.Context) ([]models.EventFilter, error)
	GetFilter(ctx context.Context, id string) (*models.EventFilter, error)
	UpdateFilter(ctx context.Context, filter *models.EventFilter) error
	DeleteFilter(ctx context.Context, id string) error

	CreateRoute(ctx context.Context, route *models.EventRoute) error
	ListRoutes(ctx context.Context) ([]models.EventRoute, error)
	GetRoute(ctx context.Context, id string) (*models.EventRoute, error)
	UpdateRoute(ctx context.Context, route *models.EventRoute) error
	DeleteRoute(ctx context.Context, id string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateFilter(ctx context.Context, filter *models.EventFilter) error {
	if filter.ID == "" {
		filter.ID = uuid.New().String()
	}
	now := time.Now()
	filter.CreatedAt = now
	filter.UpdatedAt = now

	conditionsJSON, transformJSON, err := encodeFilterColumns(filter)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO event_filters (id, name, source, event_type, conditions, expression, action, transform, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		filter.ID, filter.Name, filter.Source, filter.EventType,
		conditionsJSON, nullableString(filter.Expression), string(filter.Action), transformJSON,
		filter.Priority, filter.Enabled, filter.CreatedAt, filter.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError(err, "filter", filter.Name)
	}
	return nil
}

func (r *PostgresRepository) ListFilters(ctx context.Context) ([]models.EventFilter, error) {
	query := `
		SELECT id, name, source, event_type, conditions, expression, action, transform, priority, enabled, created_at, updated_at
		FROM event_filters
		ORDER BY priority DESC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list filters: %w", err)
	}
	defer rows.Close()

	var filters []models.EventFilter
	for rows.Next() {
		filter, err := scanFilterRow(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, filter)
	}
	return filters, rows.Err()
}

func (r *PostgresRepository) GetFilter(ctx context.Context, id string) (*models.EventFilter, error) {
	query := `
		SELECT id, name, source, event_type, conditions, expression, action, transform, priority, enabled, created_at, updated_at
		FROM event_filters
		WHERE id = $1
	`

	filter, err := scanFilterRow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get filter: %w", err)
	}
	return &filter, nil
}

func (r *PostgresRepository) UpdateFilter(ctx context.Context, filter *models.EventFilter) error {
	filter.UpdatedAt = time.Now()

	conditionsJSON, transformJSON, err := encodeFilterColumns(filter)
	if err != nil {
		return err
	}

	query := `
		UPDATE event_filters
		SET name = $1, source = $2, event_type = $3, conditions = $4, expression = $5,
		    action = $6, transform = $7, priority = $8, enabled = $9, updated_at = $10
		WHERE id = $11
	`

	res, err := r.db.ExecContext(ctx, query,
		filter.Name, filter.Source, filter.EventType, conditionsJSON, nullableString(filter.Expression),
		string(filter.Action), transformJSON, filter.Priority, filter.Enabled, filter.UpdatedAt,
		filter.ID,
	)
	if err != nil {
		return wrapWriteError(err, "filter", filter.Name)
	}
	return requireRowAffected(res)
}

func (r *PostgresRepository) DeleteFilter(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM event_filters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete filter: %w", err)
	}
	return requireRowAffected(res)
}

func (r *PostgresRepository) CreateRoute(ctx context.Context, route *models.EventRoute) error {
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	now := time.Now()
	route.CreatedAt = now
	route.UpdatedAt = now

	filtersJSON, transformJSON, retryJSON, err := encodeRouteColumns(route)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO event_routes (id, name, source_filters, target_agents, priority, transformation, retry_policy, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		route.ID, route.Name, filtersJSON, pq.Array(route.TargetAgents),
		route.Priority, transformJSON, retryJSON, route.Enabled,
		route.CreatedAt, route.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError(err, "route", route.Name)
	}
	return nil
}

func (r *PostgresRepository) ListRoutes(ctx context.Context) ([]models.EventRoute, error) {
	query := `
		SELECT id, name, source_filters, target_agents, priority, transformation, retry_policy, enabled, created_at, updated_at
		FROM event_routes
		ORDER BY priority DESC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	var routes []models.EventRoute
	for rows.Next() {
		route, err := scanRouteRow(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

func (r *PostgresRepository) GetRoute(ctx context.Context, id string) (*models.EventRoute, error) {
	query := `
		SELECT id, name, source_filters, target_agents, priority, transformation, retry_policy, enabled, created_at, updated_at
		FROM event_routes
		WHERE id = $1
	`

	route, err := scanRouteRow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}
	return &route, nil
}

func (r *PostgresRepository) UpdateRoute(ctx context.Context, route *models.EventRoute) error {
	route.UpdatedAt = time.Now()

	filtersJSON, transformJSON, retryJSON, err := encodeRouteColumns(route)
	if err != nil {
		return err
	}

	query := `
		UPDATE event_routes
		SET name = $1, source_filters = $2, target_agents = $3, priority = $4,
		    transformation = $5, retry_policy = $6, enabled = $7, updated_at = $8
		WHERE id = $9
	`

	res, err := r.db.ExecContext(ctx, query,
		route.Name, filtersJSON, pq.Array(route.TargetAgents), route.Priority,
		transformJSON, retryJSON, route.Enabled, route.UpdatedAt,
		route.ID,
	)
	if err != nil {
		return wrapWriteError(err, "route", route.Name)
	}
	return requireRowAffected(res)
}

func (r *PostgresRepository) DeleteRoute(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM event_routes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}
	return requireRowAffected(res)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFilterRow(row rowScanner) (models.EventFilter, error) {
	var (
		filter        models.EventFilter
		action        string
		expression    sql.NullString
		conditionsRaw []byte
		transformRaw  []byte
	)

	if err := row.Scan(
		&filter.ID, &filter.Name, &filter.Source, &filter.EventType,
		&conditionsRaw, &expression, &action, &transformRaw,
		&filter.Priority, &filter.Enabled, &filter.CreatedAt, &filter.UpdatedAt,
	); err != nil {
		return filter, err
	}

	filter.Action = models.FilterAction(action)
	filter.Expression = expression.String

	if len(conditionsRaw) > 0 {
		if err := json.Unmarshal(conditionsRaw, &filter.Conditions); err != nil {
			return filter, fmt.Errorf("failed to decode conditions for filter %s: %w", filter.ID, err)
		}
	}
	if len(transformRaw) > 0 {
		if err := json.Unmarshal(transformRaw, &filter.Transform); err != nil {
			return filter, fmt.Errorf("failed to decode transform for filter %s: %w", filter.ID, err)
		}
	}
	return filter, nil
}

func scanRouteRow(row rowScanner) (models.EventRoute, error) {
	var (
		route            models.EventRoute
		sourceFiltersRaw []byte
		transformRaw     []byte
		retryPolicyRaw   []byte
	)

	if err := row.Scan(
		&route.ID, &route.Name, &sourceFiltersRaw, pq.Array(&route.TargetAgents),
		&route.Priority, &transformRaw, &retryPolicyRaw, &route.Enabled,
		&route.CreatedAt, &route.UpdatedAt,
	); err != nil {
		return route, err
	}

	if len(sourceFiltersRaw) > 0 {
		if err := json.Unmarshal(sourceFiltersRaw, &route.SourceFilters); err != nil {
			return route, fmt.Errorf("failed to decode source filters for route %s: %w", route.ID, err)
		}
	}
	if len(transformRaw) > 0 {
		if err := json.Unmarshal(transformRaw, &route.Transformation); err != nil {
			return route, fmt.Errorf("failed to decode transformation for route %s: %w", route.ID, err)
		}
	}
	if len(retryPolicyRaw) > 0 {
		if err := json.Unmarshal(retryPolicyRaw, &route.RetryPolicy); err != nil {
			return route, fmt.Errorf("failed to decode retry policy for route %s: %w", route.ID, err)
		}
	}
	return route, nil
}

func encodeFilterColumns(filter *models.EventFilter) ([]byte, []byte, error) {
	var conditionsJSON []byte
	if len(filter.Conditions) > 0 {
		raw, err := json.Marshal(filter.Conditions)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode conditions: %w", err)
		}
		conditionsJSON = raw
	}

	var transformJSON []byte
	if filter.Transform != nil {
		raw, err := json.Marshal(filter.Transform)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode transform: %w", err)
		}
		transformJSON = raw
	}
	return conditionsJSON, transformJSON, nil
}

func encodeRouteColumns(route *models.EventRoute) ([]byte, []byte, []byte, error) {
	var filtersJSON []byte
	if len(route.SourceFilters) > 0 {
		raw, err := json.Marshal(route.SourceFilters)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode source filters: %w", err)
		}
		filtersJSON = raw
	}

	var transformJSON []byte
	if route.Transformation != nil {
		raw, err := json.Marshal(route.Transformation)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode transformation: %w", err)
		}
		transformJSON = raw
	}

	retryJSON, err := json.Marshal(route.RetryPolicy)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode retry policy: %w", err)
	}
	return filtersJSON, transformJSON, retryJSON, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func wrapWriteError(err error, kind, name string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pkgerrors.ErrConflict.WithCause(err).
			WithDetail("message", fmt.Sprintf("%s with name '%s' already exists", kind, name))
	}
	return fmt.Errorf("failed to write %s: %w", kind, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func requireRowAffected(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
