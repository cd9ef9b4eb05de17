package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohamedkhairy/diting/internal/models"
	"github.com/mohamedkhairy/diting/internal/storage"
	"github.com/mohamedkhairy/diting/pkg/logger"
)

const ruleColumns = `id, name, symbol, brokers, condition_json, webhook_url, tag, enabled, created_at, updated_at`

// DatabaseRuleStore is a SQL-backed implementation of RuleStore
type DatabaseRuleStore struct {
	db *storage.DB
}

// NewDatabaseRuleStore creates a rule store on an open database
func NewDatabaseRuleStore(db *storage.DB) *DatabaseRuleStore {
	return &DatabaseRuleStore{db: db}
}

// GetRule retrieves a rule by ID
func (s *DatabaseRuleStore) GetRule(ctx context.Context, id int64) (*models.Rule, error) {
	query := s.db.Rebind(`SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`)

	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	return rule, nil
}

// GetAllRules retrieves all rules ordered by ID
func (s *DatabaseRuleStore) GetAllRules(ctx context.Context) ([]*models.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY id`)
}

// GetEnabledRules retrieves all enabled rules ordered by ID
func (s *DatabaseRuleStore) GetEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE enabled = ? ORDER BY id`, true)
}

// GetRulesBySymbol retrieves the rules for a symbol
func (s *DatabaseRuleStore) GetRulesBySymbol(ctx context.Context, symbol string, onlyEnabled bool) ([]*models.Rule, error) {
	if onlyEnabled {
		return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE symbol = ? AND enabled = ? ORDER BY id`, symbol, true)
	}
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE symbol = ? ORDER BY id`, symbol)
}

// AddRule validates and inserts a rule, assigning its ID
func (s *DatabaseRuleStore) AddRule(ctx context.Context, rule *models.Rule) error {
	if err := ValidateRule(rule); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	conditionJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := s.db.Rebind(`
		INSERT INTO rules (name, symbol, brokers, condition_json, webhook_url, tag, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err = s.db.QueryRowContext(ctx, query,
		rule.Name,
		rule.Symbol,
		joinBrokers(rule.Brokers),
		string(conditionJSON),
		rule.WebhookURL,
		rule.Tag,
		rule.Enabled,
		rule.CreatedAt.UTC(),
		rule.UpdatedAt,
	).Scan(&rule.ID)
	if storage.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", models.ErrDuplicateRule, rule.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	logger.Info("Rule added",
		logger.Int64("rule_id", rule.ID),
		logger.String("name", rule.Name),
		logger.String("symbol", rule.Symbol),
	)
	return nil
}

// UpdateRule validates and replaces an existing rule
func (s *DatabaseRuleStore) UpdateRule(ctx context.Context, rule *models.Rule) error {
	if err := ValidateRule(rule); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	conditionJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}

	rule.UpdatedAt = time.Now().UTC()
	query := s.db.Rebind(`
		UPDATE rules
		SET name = ?, symbol = ?, brokers = ?, condition_json = ?, webhook_url = ?, tag = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`)

	res, err := s.db.ExecContext(ctx, query,
		rule.Name,
		rule.Symbol,
		joinBrokers(rule.Brokers),
		string(conditionJSON),
		rule.WebhookURL,
		rule.Tag,
		rule.Enabled,
		rule.UpdatedAt,
		rule.ID,
	)
	if storage.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", models.ErrDuplicateRule, rule.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if err := expectOneRow(res, rule.ID); err != nil {
		return err
	}

	logger.Info("Rule updated", logger.Int64("rule_id", rule.ID))
	return nil
}

// EnableRule enables a rule
func (s *DatabaseRuleStore) EnableRule(ctx context.Context, id int64) error {
	return s.setRuleEnabled(ctx, id, true)
}

// DisableRule disables a rule
func (s *DatabaseRuleStore) DisableRule(ctx context.Context, id int64) error {
	return s.setRuleEnabled(ctx, id, false)
}

func (s *DatabaseRuleStore) setRuleEnabled(ctx context.Context, id int64, enabled bool) error {
	query := s.db.Rebind(`UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return expectOneRow(res, id)
}

// PurgeRule removes a rule permanently. Its triggers are kept.
func (s *DatabaseRuleStore) PurgeRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM rules WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}
	logger.Info("Rule purged", logger.Int64("rule_id", id))
	return nil
}

func (s *DatabaseRuleStore) queryRules(ctx context.Context, query string, args ...interface{}) ([]*models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*models.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return rules, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*models.Rule, error) {
	var (
		rule          models.Rule
		brokers       string
		conditionJSON string
	)
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Symbol,
		&brokers,
		&conditionJSON,
		&rule.WebhookURL,
		&rule.Tag,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(conditionJSON), &rule.Condition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal condition for rule %d: %w", rule.ID, err)
	}
	rule.Brokers = splitBrokers(brokers)
	return &rule, nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", models.ErrRuleNotFound, id)
	}
	return nil
}

func joinBrokers(brokers []string) string {
	cleaned := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			cleaned = append(cleaned, b)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitBrokers(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ RuleStore = (*DatabaseRuleStore)(nil)
