package rules

import (
	"context"

	"github.com/mohamedkhairy/diting/internal/models"
)

// Snapshot is the flat field map a condition tree is evaluated against
type Snapshot map[string]interface{}

// EnabledRuleSource yields the enabled rules the quote engines watch
type EnabledRuleSource interface {
	// GetEnabledRules returns enabled rules ordered by id
	GetEnabledRules(ctx context.Context) ([]*models.Rule, error)
}

// RuleStore defines the interface for storing and retrieving rules.
// AddRule and UpdateRule validate the rule and persist nothing when
// validation fails.
type RuleStore interface {
	EnabledRuleSource

	// GetRule retrieves a rule by ID
	GetRule(ctx context.Context, id int64) (*models.Rule, error)

	// GetAllRules retrieves every rule, enabled or not
	GetAllRules(ctx context.Context) ([]*models.Rule, error)

	// GetRulesBySymbol retrieves the rules for a symbol
	GetRulesBySymbol(ctx context.Context, symbol string, onlyEnabled bool) ([]*models.Rule, error)

	// AddRule adds a new rule and assigns its ID
	AddRule(ctx context.Context, rule *models.Rule) error

	// UpdateRule updates an existing rule
	UpdateRule(ctx context.Context, rule *models.Rule) error

	// EnableRule enables a rule
	EnableRule(ctx context.Context, id int64) error

	// DisableRule disables a rule; this is how rules are deleted
	DisableRule(ctx context.Context, id int64) error

	// PurgeRule removes a rule permanently
	PurgeRule(ctx context.Context, id int64) error
}
