package rules

import (
	"encoding/json"
	"fmt"

	"github.com/mohamedkhairy/diting/internal/models"
)

// EvaluateCondition evaluates a condition tree against a snapshot.
//
// Every child of a branch is evaluated in order, even once the result is
// decided, so a broken subtree is reported rather than hidden behind an
// earlier false (AND) or true (OR). AND over no children is true, OR over
// no children is false.
func EvaluateCondition(node *models.ConditionNode, snapshot Snapshot) (bool, error) {
	return evaluateNode(node, snapshot, rootPath)
}

func evaluateNode(n *models.ConditionNode, snapshot Snapshot, path string) (bool, error) {
	if n == nil {
		return false, &models.EvaluationError{Path: path, Err: models.ErrMalformedNode}
	}

	switch n.Shape() {
	case models.ShapeLeaf:
		return evaluateLeaf(n, snapshot, path)
	case models.ShapeBranch:
		return evaluateBranch(n, snapshot, path)
	default:
		return false, &models.EvaluationError{Path: path, Err: models.ErrMalformedNode}
	}
}

func evaluateBranch(n *models.ConditionNode, snapshot Snapshot, path string) (bool, error) {
	if n.Logic == models.LogicNot && len(n.Conditions) != 1 {
		return false, &models.EvaluationError{
			Path: path,
			Err:  fmt.Errorf("%w, got %d", models.ErrNotArity, len(n.Conditions)),
		}
	}

	results := make([]bool, len(n.Conditions))
	for i, child := range n.Conditions {
		ok, err := evaluateNode(child, snapshot, childPath(path, i))
		if err != nil {
			return false, err
		}
		results[i] = ok
	}

	switch n.Logic {
	case models.LogicAnd:
		for _, r := range results {
			if !r {
				return false, nil
			}
		}
		return true, nil
	case models.LogicOr:
		for _, r := range results {
			if r {
				return true, nil
			}
		}
		return false, nil
	case models.LogicNot:
		return !results[0], nil
	}
	return false, &models.EvaluationError{
		Path: path,
		Err:  fmt.Errorf("%w: unsupported logic %q", models.ErrMalformedNode, n.Logic),
	}
}

func evaluateLeaf(n *models.ConditionNode, snapshot Snapshot, path string) (bool, error) {
	actual, ok := snapshot[string(n.Field)]
	if !ok {
		return false, &models.EvaluationError{
			Path: path,
			Err:  fmt.Errorf("%w: %s", models.ErrMissingField, n.Field),
		}
	}
	result, err := compare(actual, n.Op, n.Value)
	if err != nil {
		return false, &models.EvaluationError{Path: path, Err: err}
	}
	return result, nil
}

// compare applies op to (actual, expected). Numbers compare as float64,
// strings by byte order, booleans support only equality.
func compare(actual interface{}, op models.Operator, expected interface{}) (bool, error) {
	if a, ok := toFloat(actual); ok {
		b, ok := toFloat(expected)
		if !ok {
			return false, incompatible(actual, expected)
		}
		return applyOrdered(op, a < b, a == b)
	}

	switch a := actual.(type) {
	case string:
		b, ok := expected.(string)
		if !ok {
			return false, incompatible(actual, expected)
		}
		return applyOrdered(op, a < b, a == b)
	case bool:
		b, ok := expected.(bool)
		if !ok {
			return false, incompatible(actual, expected)
		}
		switch op {
		case models.OpEqual:
			return a == b, nil
		case models.OpNotEqual:
			return a != b, nil
		}
		return false, fmt.Errorf("%w: operator %s is not defined for booleans", models.ErrIncompatibleTypes, op)
	}
	return false, incompatible(actual, expected)
}

func applyOrdered(op models.Operator, less, equal bool) (bool, error) {
	switch op {
	case models.OpGreater:
		return !less && !equal, nil
	case models.OpLess:
		return less, nil
	case models.OpEqual:
		return equal, nil
	case models.OpGreaterEqual:
		return !less, nil
	case models.OpLessEqual:
		return less || equal, nil
	case models.OpNotEqual:
		return !equal, nil
	}
	return false, fmt.Errorf("%w: unsupported operator %q", models.ErrMalformedNode, op)
}

func incompatible(actual, expected interface{}) error {
	return fmt.Errorf("%w: %T vs %T", models.ErrIncompatibleTypes, actual, expected)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
