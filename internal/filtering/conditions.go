package filtering

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"hookrelay/pkg/fieldpath"
	"hookrelay/pkg/models"
)

// EvaluateConditions reports whether all of the filter's conditions hold for
// the event. Conditions are ANDed; an empty condition list matches. The
// router shares this evaluator for its route match predicates.
func EvaluateConditions(event models.EventData, conditions []models.Condition) (bool, error) {
	for _, cond := range conditions {
		ok, err := evaluateCondition(event, cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateCondition(event models.EventData, cond models.Condition) (bool, error) {
	actual, found := fieldpath.Resolve(event, cond.Field)

	if cond.Operator == models.OperatorExists {
		want := true
		if b, ok := cond.Value.(bool); ok {
			want = b
		}
		return found == want, nil
	}

	// A missing field matches nothing except not_equals.
	if !found {
		return cond.Operator == models.OperatorNotEquals, nil
	}

	switch cond.Operator {
	case models.OperatorEquals:
		return looselyEqual(actual, cond.Value), nil

	case models.OperatorNotEquals:
		return !looselyEqual(actual, cond.Value), nil

	case models.OperatorContains:
		return contains(actual, cond.Value), nil

	case models.OperatorIn:
		list, ok := toSlice(cond.Value)
		if !ok {
			return false, fmt.Errorf("operator %q requires a list value", cond.Operator)
		}
		for _, candidate := range list {
			if looselyEqual(actual, candidate) {
				return true, nil
			}
		}
		return false, nil

	case models.OperatorGT, models.OperatorLT, models.OperatorGTE, models.OperatorLTE:
		a, aok := toFloat(actual)
		b, bok := toFloat(cond.Value)
		if !aok || !bok {
			return false, fmt.Errorf("operator %q requires numeric operands", cond.Operator)
		}
		switch cond.Operator {
		case models.OperatorGT:
			return a > b, nil
		case models.OperatorLT:
			return a < b, nil
		case models.OperatorGTE:
			return a >= b, nil
		default:
			return a <= b, nil
		}

	default:
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

// looselyEqual compares values the way JSON payloads need: numbers compare
// across int/float representations, everything else by string form only when
// the Go equality fails.
func looselyEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	if a == b {
		return true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	return aok && bok && as == bs
}

func contains(actual, value interface{}) bool {
	switch v := actual.(type) {
	case string:
		s, ok := value.(string)
		return ok && strings.Contains(v, s)
	case []interface{}:
		for _, item := range v {
			if looselyEqual(item, value) {
				return true
			}
		}
	case []string:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, item := range v {
			if item == s {
				return true
			}
		}
	}
	return false
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch list := v.(type) {
	case []interface{}:
		return list, true
	case []string:
		out := make([]interface{}, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
