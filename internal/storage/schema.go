package storage

import (
	"context"
	"fmt"

	"github.com/mohamedkhairy/diting/pkg/logger"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		brokers TEXT NOT NULL DEFAULT '',
		condition_json TEXT NOT NULL,
		webhook_url TEXT NOT NULL DEFAULT '',
		tag TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_symbol ON rules (symbol)`,
	`CREATE TABLE IF NOT EXISTS triggers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_symbol ON triggers (symbol, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_rule ON triggers (rule_id, created_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS rules (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		brokers TEXT NOT NULL DEFAULT '',
		condition_json TEXT NOT NULL,
		webhook_url TEXT NOT NULL DEFAULT '',
		tag TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_symbol ON rules (symbol)`,
	`CREATE TABLE IF NOT EXISTS triggers (
		id BIGSERIAL PRIMARY KEY,
		rule_id BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_symbol ON triggers (symbol, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_rule ON triggers (rule_id, created_at)`,
}

// InitSchema creates the rules and triggers tables if they do not exist.
// triggers.rule_id is not a foreign key; purging a rule keeps
// its trigger history.
func (d *DB) InitSchema(ctx context.Context) error {
	statements := sqliteSchema
	if d.driver == DriverPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	logger.Debug("Database schema ready", logger.String("driver", d.driver))
	return nil
}
