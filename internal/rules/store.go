package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohamedkhairy/diting/internal/models"
)

// InMemoryRuleStore is an in-memory implementation of RuleStore
type InMemoryRuleStore struct {
	mu     sync.RWMutex
	rules  map[int64]*models.Rule
	nextID int64
	err    error
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[int64]*models.Rule),
	}
}

// SetError makes every read fail with err until cleared with nil
func (s *InMemoryRuleStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// GetRule retrieves a rule by ID
func (s *InMemoryRuleStore) GetRule(ctx context.Context, id int64) (*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %d", models.ErrRuleNotFound, id)
	}

	// Return a copy to prevent external modifications
	return copyRule(rule), nil
}

// GetAllRules retrieves all rules ordered by ID
func (s *InMemoryRuleStore) GetAllRules(ctx context.Context) ([]*models.Rule, error) {
	return s.list(func(*models.Rule) bool { return true })
}

// GetEnabledRules retrieves all enabled rules ordered by ID
func (s *InMemoryRuleStore) GetEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	return s.list(func(r *models.Rule) bool { return r.Enabled })
}

// GetRulesBySymbol retrieves the rules for a symbol
func (s *InMemoryRuleStore) GetRulesBySymbol(ctx context.Context, symbol string, onlyEnabled bool) ([]*models.Rule, error) {
	return s.list(func(r *models.Rule) bool {
		return r.Symbol == symbol && (!onlyEnabled || r.Enabled)
	})
}

func (s *InMemoryRuleStore) list(keep func(*models.Rule) bool) ([]*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	rules := make([]*models.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if keep(rule) {
			rules = append(rules, copyRule(rule))
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// AddRule adds a new rule and assigns its ID
func (s *InMemoryRuleStore) AddRule(ctx context.Context, rule *models.Rule) error {
	if err := ValidateRule(rule); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rules {
		if existing.Name == rule.Name {
			return fmt.Errorf("%w: %s", models.ErrDuplicateRule, rule.Name)
		}
	}

	s.nextID++
	rule.ID = s.nextID

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	s.rules[rule.ID] = copyRule(rule)
	return nil
}

// UpdateRule updates an existing rule
func (s *InMemoryRuleStore) UpdateRule(ctx context.Context, rule *models.Rule) error {
	if err := ValidateRule(rule); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("%w: %d", models.ErrRuleNotFound, rule.ID)
	}
	for id, other := range s.rules {
		if id != rule.ID && other.Name == rule.Name {
			return fmt.Errorf("%w: %s", models.ErrDuplicateRule, rule.Name)
		}
	}

	// Preserve CreatedAt
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	s.rules[rule.ID] = copyRule(rule)
	return nil
}

// EnableRule enables a rule
func (s *InMemoryRuleStore) EnableRule(ctx context.Context, id int64) error {
	return s.setRuleEnabled(id, true)
}

// DisableRule disables a rule
func (s *InMemoryRuleStore) DisableRule(ctx context.Context, id int64) error {
	return s.setRuleEnabled(id, false)
}

func (s *InMemoryRuleStore) setRuleEnabled(id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("%w: %d", models.ErrRuleNotFound, id)
	}

	rule.Enabled = enabled
	rule.UpdatedAt = time.Now().UTC()
	return nil
}

// PurgeRule removes a rule permanently
func (s *InMemoryRuleStore) PurgeRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("%w: %d", models.ErrRuleNotFound, id)
	}
	delete(s.rules, id)
	return nil
}

// Count returns the number of rules in the store
func (s *InMemoryRuleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rules)
}

// copyRule creates a deep copy of a rule. Condition trees are immutable once
// validated, but a JSON round trip keeps callers from sharing nodes.
func copyRule(rule *models.Rule) *models.Rule {
	if rule == nil {
		return nil
	}

	copied := *rule
	copied.Brokers = append([]string(nil), rule.Brokers...)
	copied.Condition = copyCondition(rule.Condition)
	return &copied
}

func copyCondition(node *models.ConditionNode) *models.ConditionNode {
	if node == nil {
		return nil
	}
	data, err := json.Marshal(node)
	if err != nil {
		return node
	}
	var copied *models.ConditionNode
	if err := json.Unmarshal(data, &copied); err != nil {
		return node
	}
	return copied
}

var _ RuleStore = (*InMemoryRuleStore)(nil)
