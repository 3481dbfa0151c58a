package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"hookrelay/pkg/models"
)

// Evaluator compiles and runs CEL predicates against event data. Filters may
// carry an optional CEL expression for matching beyond what field-path
// conditions can express.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("tags", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// EvaluateFilter runs a boolean filter expression against the event.
func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, event models.EventData) (bool, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return false, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("failed to create CEL program: %w", err)
	}

	result, _, err := program.ContextEval(ctx, e.eventVars(event))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// EvaluateTransform runs an expression whose result map is merged into the
// payload by a transform filter or route transformation.
func (e *Evaluator) EvaluateTransform(ctx context.Context, expression string, event models.EventData) (interface{}, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	result, _, err := program.ContextEval(ctx, e.eventVars(event))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	return result.Value(), nil
}

func (e *Evaluator) eventVars(event models.EventData) map[string]interface{} {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	tags := event.Tags
	if tags == nil {
		tags = []string{}
	}

	return map[string]interface{}{
		"id":        event.ID,
		"source":    event.Source,
		"type":      event.Type,
		"timestamp": event.Timestamp,
		"payload":   event.Payload,
		"metadata":  metadata,
		"tags":      tags,
	}
}
