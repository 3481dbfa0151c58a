package management

import (
	"fmt"

	"hookrelay/pkg/cel"
	"hookrelay/pkg/models"
)

var validOperators = map[string]bool{
	models.OperatorEquals:    true,
	models.OperatorNotEquals: true,
	models.OperatorContains:  true,
	models.OperatorGT:        true,
	models.OperatorLT:        true,
	models.OperatorGTE:       true,
	models.OperatorLTE:       true,
	models.OperatorIn:        true,
	models.OperatorExists:    true,
}

var validFilterActions = map[models.FilterAction]bool{
	models.FilterActionInclude:   true,
	models.FilterActionExclude:   true,
	models.FilterActionTransform: true,
}

var validBackoffStrategies = map[models.BackoffStrategy]bool{
	models.BackoffFixed:       true,
	models.BackoffExponential: true,
}

var validRateLimitAlgorithms = map[string]bool{
	"fixed_window":   true,
	"sliding_window": true,
	"token_bucket":   true,
}

func ValidateCreateFilter(req CreateFilterRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validFilterActions[req.Action] {
		return fmt.Errorf("invalid action: %s. Allowed: include, exclude, transform", req.Action)
	}
	if req.Action == models.FilterActionTransform && req.Transform == nil {
		return fmt.Errorf("transform is required for transform action")
	}
	if err := validateConditions(req.Conditions); err != nil {
		return err
	}
	return validateExpressions(req.Expression, req.Transform)
}

func ValidateUpdateFilter(req UpdateFilterRequest) error {
	if req.Name != nil && *req.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if req.Action != nil && !validFilterActions[*req.Action] {
		return fmt.Errorf("invalid action: %s. Allowed: include, exclude, transform", *req.Action)
	}
	if req.Conditions != nil {
		if err := validateConditions(*req.Conditions); err != nil {
			return err
		}
	}

	expression := ""
	if req.Expression != nil {
		expression = *req.Expression
	}
	return validateExpressions(expression, req.Transform)
}

func ValidateCreateRoute(req CreateRouteRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(req.TargetAgents) == 0 {
		return fmt.Errorf("target_agents cannot be empty")
	}
	for _, agent := range req.TargetAgents {
		if agent == "" {
			return fmt.Errorf("target_agents cannot contain empty entries")
		}
	}
	if err := validateSourceFilters(req.SourceFilters); err != nil {
		return err
	}
	if req.RetryPolicy != nil {
		if err := validateRetryPolicy(*req.RetryPolicy); err != nil {
			return err
		}
	}
	return validateExpressions("", req.Transformation)
}

func ValidateUpdateRoute(req UpdateRouteRequest) error {
	if req.Name != nil && *req.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if req.TargetAgents != nil {
		if len(*req.TargetAgents) == 0 {
			return fmt.Errorf("target_agents cannot be empty")
		}
		for _, agent := range *req.TargetAgents {
			if agent == "" {
				return fmt.Errorf("target_agents cannot contain empty entries")
			}
		}
	}
	if req.SourceFilters != nil {
		if err := validateSourceFilters(*req.SourceFilters); err != nil {
			return err
		}
	}
	if req.RetryPolicy != nil {
		if err := validateRetryPolicy(*req.RetryPolicy); err != nil {
			return err
		}
	}
	return validateExpressions("", req.Transformation)
}

func ValidateRateLimitUpdate(req UpdateRateLimitRequest) error {
	if req.Algorithm != nil && !validRateLimitAlgorithms[*req.Algorithm] {
		return fmt.Errorf("invalid algorithm: %s. Allowed: fixed_window, sliding_window, token_bucket", *req.Algorithm)
	}
	if req.DefaultLimit != nil && *req.DefaultLimit <= 0 {
		return fmt.Errorf("default_limit must be positive")
	}
	if req.WindowSeconds != nil && *req.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive")
	}
	if req.BucketSize != nil && *req.BucketSize <= 0 {
		return fmt.Errorf("bucket_size must be positive")
	}
	if req.RefillRate != nil && *req.RefillRate <= 0 {
		return fmt.Errorf("refill_rate must be positive")
	}
	if req.Overrides != nil {
		for key, override := range *req.Overrides {
			if key == "" {
				return fmt.Errorf("override keys cannot be empty")
			}
			if override.Limit <= 0 {
				return fmt.Errorf("override %q: limit must be positive", key)
			}
			if override.WindowSeconds < 0 {
				return fmt.Errorf("override %q: window_seconds cannot be negative", key)
			}
		}
	}
	return nil
}

func validateConditions(conditions []models.Condition) error {
	for i, cond := range conditions {
		if cond.Field == "" {
			return fmt.Errorf("conditions[%d]: field is required", i)
		}
		if !validOperators[cond.Operator] {
			return fmt.Errorf("conditions[%d]: invalid operator %q", i, cond.Operator)
		}
	}
	return nil
}

func validateSourceFilters(filters []models.EventFilter) error {
	for i, filter := range filters {
		if err := validateConditions(filter.Conditions); err != nil {
			return fmt.Errorf("source_filters[%d]: %w", i, err)
		}
		if filter.Expression != "" {
			if err := validateCELFilter(filter.Expression); err != nil {
				return fmt.Errorf("source_filters[%d]: %w", i, err)
			}
		}
	}
	return nil
}

func validateRetryPolicy(policy models.RetryPolicy) error {
	if policy.MaxAttempts < 0 {
		return fmt.Errorf("retry_policy.max_attempts cannot be negative")
	}
	if policy.BackoffStrategy != "" && !validBackoffStrategies[policy.BackoffStrategy] {
		return fmt.Errorf("invalid retry_policy.backoff_strategy: %s. Allowed: fixed, exponential", policy.BackoffStrategy)
	}
	if policy.BaseDelay < 0 || policy.MaxDelay < 0 {
		return fmt.Errorf("retry_policy delays cannot be negative")
	}
	return nil
}

func validateExpressions(filterExpression string, transform *models.TransformSpec) error {
	if filterExpression != "" {
		if err := validateCELFilter(filterExpression); err != nil {
			return err
		}
	}
	if transform != nil && transform.Expression != "" {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return fmt.Errorf("failed to create CEL evaluator: %w", err)
		}
		if err := evaluator.ValidateExpression(transform.Expression); err != nil {
			return fmt.Errorf("invalid CEL transform expression: %w", err)
		}
	}
	return nil
}

func validateCELFilter(expression string) error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	if err := evaluator.ValidateFilterExpression(expression); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}
