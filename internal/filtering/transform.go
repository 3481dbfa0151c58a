package filtering

import (
	"context"
	"fmt"

	"hookrelay/pkg/cel"
	"hookrelay/pkg/fieldpath"
	"hookrelay/pkg/models"
)

// ApplyTransform mutates the event in order: literal sets, path removals,
// then an optional CEL expression whose result map is merged into the
// payload. Shared by the filter engine and the router's per-route
// transformations.
func ApplyTransform(ctx context.Context, evaluator *cel.Evaluator, spec *models.TransformSpec, event *models.EventData) error {
	if spec == nil {
		return nil
	}

	for path, value := range spec.Set {
		if err := fieldpath.Set(event, path, value); err != nil {
			return fmt.Errorf("transform set %q: %w", path, err)
		}
	}
	for _, path := range spec.Remove {
		fieldpath.Delete(event, path)
	}

	if spec.Expression == "" {
		return nil
	}

	result, err := evaluator.EvaluateTransform(ctx, spec.Expression, *event)
	if err != nil {
		return fmt.Errorf("transform expression: %w", err)
	}
	merged, ok := result.(map[string]interface{})
	if !ok {
		return fmt.Errorf("transform expression must produce a map, got %T", result)
	}
	if event.Payload == nil {
		event.Payload = make(map[string]interface{}, len(merged))
	}
	for k, v := range merged {
		event.Payload[k] = v
	}
	return nil
}
