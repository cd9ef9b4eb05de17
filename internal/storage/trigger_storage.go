package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mohamedkhairy/diting/internal/models"
	"github.com/mohamedkhairy/diting/pkg/logger"
)

// SQLTriggerStorage implements TriggerStorage on the shared SQL database
type SQLTriggerStorage struct {
	db *DB
}

// NewSQLTriggerStorage creates a trigger store on an open database
func NewSQLTriggerStorage(db *DB) *SQLTriggerStorage {
	return &SQLTriggerStorage{db: db}
}

// RecordTrigger appends a trigger. The creation timestamp is assigned here.
func (s *SQLTriggerStorage) RecordTrigger(ctx context.Context, ruleID int64, symbol, message string) (int64, error) {
	query := s.db.Rebind(`
		INSERT INTO triggers (rule_id, symbol, message, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`)

	var id int64
	if err := s.db.QueryRowContext(ctx, query, ruleID, symbol, message, time.Now().UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert trigger: %w", err)
	}

	logger.Debug("Trigger recorded",
		logger.Int64("trigger_id", id),
		logger.Int64("rule_id", ruleID),
		logger.String("symbol", symbol),
	)
	return id, nil
}

// GetTriggers returns the most recent triggers
func (s *SQLTriggerStorage) GetTriggers(ctx context.Context, limit int) ([]*models.Trigger, error) {
	query := `
		SELECT id, rule_id, symbol, message, created_at
		FROM triggers
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return s.queryTriggers(ctx, query, normalizeLimit(limit))
}

// GetTriggersBySymbol returns the most recent triggers for a symbol
func (s *SQLTriggerStorage) GetTriggersBySymbol(ctx context.Context, symbol string, limit int) ([]*models.Trigger, error) {
	query := `
		SELECT id, rule_id, symbol, message, created_at
		FROM triggers
		WHERE symbol = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return s.queryTriggers(ctx, query, symbol, normalizeLimit(limit))
}

// GetTriggersByRule returns the most recent triggers for a rule
func (s *SQLTriggerStorage) GetTriggersByRule(ctx context.Context, ruleID int64, limit int) ([]*models.Trigger, error) {
	query := `
		SELECT id, rule_id, symbol, message, created_at
		FROM triggers
		WHERE rule_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return s.queryTriggers(ctx, query, ruleID, normalizeLimit(limit))
}

// DeleteTrigger removes a single trigger
func (s *SQLTriggerStorage) DeleteTrigger(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM triggers WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", models.ErrTriggerNotFound, id)
	}
	return nil
}

// ClearTriggers removes every trigger
func (s *SQLTriggerStorage) ClearTriggers(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear triggers: %w", err)
	}
	n, _ := res.RowsAffected()
	logger.Info("Triggers cleared", logger.Int64("count", n))
	return n, nil
}

// PurgeOlderThan removes triggers created before cutoff
func (s *SQLTriggerStorage) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM triggers WHERE created_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge triggers: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLTriggerStorage) queryTriggers(ctx context.Context, query string, args ...interface{}) ([]*models.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	triggers := make([]*models.Trigger, 0)
	for rows.Next() {
		var t models.Trigger
		if err := rows.Scan(&t.ID, &t.RuleID, &t.Symbol, &t.Message, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return triggers, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultTriggerLimit
	}
	return limit
}

var _ TriggerStorage = (*SQLTriggerStorage)(nil)
