package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"hookrelay/pkg/models"
)

type Repository interface {
	GetActiveRoutes(ctx context.Context) ([]models.EventRoute, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetActiveRoutes(ctx context.Context) ([]models.EventRoute, error) {
	query := `
		SELECT id, name, source_filters, target_agents, priority, transformation,
		       retry_policy, enabled, created_at, updated_at
		FROM event_routes
		WHERE enabled = true
		ORDER BY priority DESC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []models.EventRoute
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return routes, nil
}

func scanRoute(rows *sql.Rows) (models.EventRoute, error) {
	var (
		route            models.EventRoute
		sourceFiltersRaw []byte
		transformRaw     []byte
		retryPolicyRaw   []byte
	)

	if err := rows.Scan(
		&route.ID,
		&route.Name,
		&sourceFiltersRaw,
		pq.Array(&route.TargetAgents),
		&route.Priority,
		&transformRaw,
		&retryPolicyRaw,
		&route.Enabled,
		&route.CreatedAt,
		&route.UpdatedAt,
	); err != nil {
		return route, fmt.Errorf("failed to scan route: %w", err)
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
