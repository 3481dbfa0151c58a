package filtering

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"hookrelay/pkg/models"
)

type Repository interface {
	GetActiveFilters(ctx context.Context) ([]models.EventFilter, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetActiveFilters(ctx context.Context) ([]models.EventFilter, error) {
	query := `
		SELECT id, name, source, event_type, conditions, expression, action, transform,
		       priority, enabled, created_at, updated_at
		FROM event_filters
		WHERE enabled = true
		ORDER BY priority DESC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query filters: %w", err)
	}
	defer rows.Close()

	var filters []models.EventFilter
	for rows.Next() {
		filter, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, filter)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return filters, nil
}

func scanFilter(rows *sql.Rows) (models.EventFilter, error) {
	var (
		filter        models.EventFilter
		conditionsRaw []byte
		transformRaw  []byte
		expression    sql.NullString
	)

	if err := rows.Scan(
		&filter.ID,
		&filter.Name,
		&filter.Source,
		&filter.EventType,
		&conditionsRaw,
		&expression,
		&filter.Action,
		&transformRaw,
		&filter.Priority,
		&filter.Enabled,
		&filter.CreatedAt,
		&filter.UpdatedAt,
	); err != nil {
		return filter, fmt.Errorf("failed to scan filter: %w", err)
	}

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
