package storage

import (
	"context"
	"time"

	"github.com/mohamedkhairy/diting/internal/models"
)

// DefaultTriggerLimit caps trigger history queries when no limit is given
const DefaultTriggerLimit = 100

// TriggerRecorder persists trigger records. It is the only storage
// operation the quote engines need.
type TriggerRecorder interface {
	// RecordTrigger appends a trigger and returns its id
	RecordTrigger(ctx context.Context, ruleID int64, symbol, message string) (int64, error)
}

// TriggerStorage defines the interface for trigger history operations
type TriggerStorage interface {
	TriggerRecorder

	// GetTriggers returns the most recent triggers, newest first
	GetTriggers(ctx context.Context, limit int) ([]*models.Trigger, error)

	// GetTriggersBySymbol returns the most recent triggers for a symbol
	GetTriggersBySymbol(ctx context.Context, symbol string, limit int) ([]*models.Trigger, error)

	// GetTriggersByRule returns the most recent triggers for a rule
	GetTriggersByRule(ctx context.Context, ruleID int64, limit int) ([]*models.Trigger, error)

	// DeleteTrigger removes a single trigger
	DeleteTrigger(ctx context.Context, id int64) error

	// ClearTriggers removes every trigger and returns the number removed
	ClearTriggers(ctx context.Context) (int64, error)

	// PurgeOlderThan removes triggers created before cutoff
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RedisClient defines the Redis operations used for trigger fan-out
type RedisClient interface {
	// PublishToStream appends value, JSON encoded under key, to a stream
	PublishToStream(ctx context.Context, stream string, key string, value interface{}) error

	// Ping checks connectivity
	Ping(ctx context.Context) error

	// Close closes the Redis connection
	Close() error
}

// StreamMessage represents a message appended to a Redis stream
type StreamMessage struct {
	ID     string
	Stream string
	Values map[string]interface{}
}
