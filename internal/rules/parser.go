package rules

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mohamedkhairy/diting/internal/models"
)

// ParseCondition decodes and validates a JSON condition tree
func ParseCondition(data []byte) (*models.ConditionNode, error) {
	var node *models.ConditionNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidCondition, err)
	}
	if err := ValidateCondition(node); err != nil {
		return nil, err
	}
	return node, nil
}

// ParseRule parses a JSON rule definition into a Rule struct
func ParseRule(data []byte) (*models.Rule, error) {
	var rule models.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule: %w", err)
	}

	if err := ValidateRule(&rule); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}

	return &rule, nil
}

// ParseRuleFromReader parses a rule from an io.Reader
func ParseRuleFromReader(reader io.Reader) (*models.Rule, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule data: %w", err)
	}

	return ParseRule(data)
}
