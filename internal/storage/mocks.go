package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohamedkhairy/diting/internal/models"
)

// MockTriggerStorage is an in-memory implementation of TriggerStorage for testing
type MockTriggerStorage struct {
	mu        sync.Mutex
	Triggers  []*models.Trigger
	RecordErr error
	GetErr    error
	nextID    int64
}

func NewMockTriggerStorage() *MockTriggerStorage {
	return &MockTriggerStorage{}
}

func (m *MockTriggerStorage) RecordTrigger(ctx context.Context, ruleID int64, symbol, message string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return 0, m.RecordErr
	}
	m.nextID++
	m.Triggers = append(m.Triggers, &models.Trigger{
		ID:        m.nextID,
		RuleID:    ruleID,
		Symbol:    symbol,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	return m.nextID, nil
}

// SetRecordErr changes the error returned by RecordTrigger
func (m *MockTriggerStorage) SetRecordErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordErr = err
}

// Count returns the number of recorded triggers
func (m *MockTriggerStorage) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Triggers)
}

// Snapshot returns a copy of the recorded triggers
func (m *MockTriggerStorage) Snapshot() []*models.Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Trigger, len(m.Triggers))
	copy(out, m.Triggers)
	return out
}

func (m *MockTriggerStorage) GetTriggers(ctx context.Context, limit int) ([]*models.Trigger, error) {
	return m.filter(limit, func(*models.Trigger) bool { return true })
}

func (m *MockTriggerStorage) GetTriggersBySymbol(ctx context.Context, symbol string, limit int) ([]*models.Trigger, error) {
	return m.filter(limit, func(t *models.Trigger) bool { return t.Symbol == symbol })
}

func (m *MockTriggerStorage) GetTriggersByRule(ctx context.Context, ruleID int64, limit int) ([]*models.Trigger, error) {
	return m.filter(limit, func(t *models.Trigger) bool { return t.RuleID == ruleID })
}

func (m *MockTriggerStorage) DeleteTrigger(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.Triggers {
		if t.ID == id {
			m.Triggers = append(m.Triggers[:i], m.Triggers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %d", models.ErrTriggerNotFound, id)
}

func (m *MockTriggerStorage) ClearTriggers(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.Triggers))
	m.Triggers = nil
	return n, nil
}

func (m *MockTriggerStorage) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Triggers[:0]
	var n int64
	for _, t := range m.Triggers {
		if t.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	m.Triggers = kept
	return n, nil
}

func (m *MockTriggerStorage) filter(limit int, keep func(*models.Trigger) bool) ([]*models.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	result := make([]*models.Trigger, 0)
	for _, t := range m.Triggers {
		if keep(t) {
			result = append(result, t)
		}
	}
	// Newest first
	sort.SliceStable(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	limit = normalizeLimit(limit)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MockRedisClient is a mock implementation of RedisClient for testing
type MockRedisClient struct {
	mu         sync.Mutex
	StreamData []StreamMessage
	PublishErr error
	PingErr    error
	closed     bool
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{}
}

func (m *MockRedisClient) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	// Marshal to JSON like the real implementation
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	m.StreamData = append(m.StreamData, StreamMessage{
		ID:     fmt.Sprintf("%d-0", len(m.StreamData)+1),
		Stream: stream,
		Values: map[string]interface{}{key: string(data)},
	})
	return nil
}

// Messages returns a copy of the published stream messages
func (m *MockRedisClient) Messages() []StreamMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StreamMessage, len(m.StreamData))
	copy(out, m.StreamData)
	return out
}

func (m *MockRedisClient) Ping(ctx context.Context) error {
	return m.PingErr
}

func (m *MockRedisClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
