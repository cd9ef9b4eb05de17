package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/mohamedkhairy/diting/internal/models"
	"github.com/mohamedkhairy/diting/internal/storage"
	"github.com/mohamedkhairy/diting/pkg/logger"
)

// TriggerEvent is the stream message emitted for every recorded trigger
type TriggerEvent struct {
	TriggerID int64                 `json:"trigger_id"`
	RuleID    int64                 `json:"rule_id"`
	RuleName  string                `json:"rule_name"`
	Engine    string                `json:"engine"`
	Symbol    string                `json:"symbol"`
	Tag       string                `json:"tag"`
	Message   string                `json:"message"`
	OHLC      *models.QuoteSnapshot `json:"ohlc"`
	TraceID   string                `json:"trace_id,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// StreamPublisher fans trigger events out to a Redis stream for downstream
// consumers
type StreamPublisher struct {
	redis          storage.RedisClient
	stream         string
	publishTimeout time.Duration
}

// NewStreamPublisher creates a new trigger event publisher
func NewStreamPublisher(redis storage.RedisClient, stream string, publishTimeout time.Duration) *StreamPublisher {
	return &StreamPublisher{
		redis:          redis,
		stream:         stream,
		publishTimeout: publishTimeout,
	}
}

// PublishTrigger appends a trigger event to the stream
func (p *StreamPublisher) PublishTrigger(ctx context.Context, event *TriggerEvent) error {
	pubCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	if event.TraceID == "" {
		event.TraceID = logger.GetTraceID(ctx)
	}
	if err := p.redis.PublishToStream(pubCtx, p.stream, "trigger", event); err != nil {
		return fmt.Errorf("failed to publish trigger to stream: %w", err)
	}

	logger.Debug("Published trigger event",
		logger.Int64("trigger_id", event.TriggerID),
		logger.Int64("rule_id", event.RuleID),
		logger.String("symbol", event.Symbol),
		logger.String("stream", p.stream),
	)
	return nil
}
