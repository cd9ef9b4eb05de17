package rules

import (
	"fmt"
	"strings"

	"github.com/mohamedkhairy/diting/internal/models"
)

const rootPath = "$"

// ValidateRule validates a rule and its condition tree
func ValidateRule(rule *models.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	return ValidateCondition(rule.Condition)
}

// ValidateCondition checks a condition tree against the grammar. It returns
// a *models.ValidationError for the first violation found, depth first.
func ValidateCondition(node *models.ConditionNode) error {
	return validateNode(node, rootPath)
}

func validateNode(n *models.ConditionNode, path string) error {
	if n == nil {
		return &models.ValidationError{Path: path, Reason: "node is null"}
	}
	if unknown := n.UnknownKeys(); len(unknown) > 0 {
		return &models.ValidationError{
			Path:   path,
			Reason: fmt.Sprintf("unknown keys: %s", strings.Join(unknown, ", ")),
		}
	}
	if mistyped := n.MistypedKeys(); len(mistyped) > 0 {
		return &models.ValidationError{
			Path:   path,
			Reason: fmt.Sprintf("wrong value type for: %s", strings.Join(mistyped, ", ")),
		}
	}

	switch n.Shape() {
	case models.ShapeLeaf:
		return validateLeaf(n, path)
	case models.ShapeBranch:
		return validateBranch(n, path)
	case models.ShapeAmbiguous:
		return &models.ValidationError{
			Path:   path,
			Reason: "node mixes leaf keys (field, op, value) with branch keys (logic, conditions)",
		}
	default:
		return &models.ValidationError{
			Path:   path,
			Reason: "node must be a leaf {field, op, value} or a branch {logic, conditions}",
		}
	}
}

func validateLeaf(n *models.ConditionNode, path string) error {
	for _, key := range []string{"field", "op", "value"} {
		if !n.Has(key) {
			return &models.ValidationError{Path: path, Reason: fmt.Sprintf("leaf is missing %q", key)}
		}
	}
	if !n.Field.IsValid() {
		return &models.ValidationError{Path: path, Reason: fmt.Sprintf("unknown field %q", n.Field)}
	}
	if !n.Op.IsValid() {
		return &models.ValidationError{Path: path, Reason: fmt.Sprintf("unsupported operator %q", n.Op)}
	}
	switch n.Value.(type) {
	case string, bool:
	default:
		if _, ok := toFloat(n.Value); !ok {
			return &models.ValidationError{
				Path:   path,
				Reason: fmt.Sprintf("value must be a number, string or boolean, got %T", n.Value),
			}
		}
	}
	return nil
}

func validateBranch(n *models.ConditionNode, path string) error {
	if !n.Has("logic") {
		return &models.ValidationError{Path: path, Reason: `branch is missing "logic"`}
	}
	if !n.Has("conditions") {
		return &models.ValidationError{Path: path, Reason: `branch is missing "conditions"`}
	}
	if !n.Logic.IsValid() {
		return &models.ValidationError{Path: path, Reason: fmt.Sprintf("unsupported logic %q", n.Logic)}
	}
	if n.Logic == models.LogicNot && len(n.Conditions) != 1 {
		return &models.ValidationError{
			Path:   path,
			Reason: fmt.Sprintf("NOT requires exactly one condition, got %d", len(n.Conditions)),
		}
	}
	for i, child := range n.Conditions {
		if err := validateNode(child, childPath(path, i)); err != nil {
			return err
		}
	}
	return nil
}

func childPath(path string, i int) string {
	return fmt.Sprintf("%s.conditions[%d]", path, i)
}
