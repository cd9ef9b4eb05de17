package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohamedkhairy/diting/internal/models"
	"github.com/mohamedkhairy/diting/internal/storage"
	"github.com/mohamedkhairy/diting/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() models.WebhookPayload {
	return models.WebhookPayload{
		Name:   "breakout",
		Symbol: "AAPL",
		OHLC:   &models.QuoteSnapshot{Symbol: "AAPL", Open: 150, High: 156, Low: 149, Close: 155, Volume: 100},
		Tag:    "desk",
	}
}

func TestWebhookDispatcher_Success(t *testing.T) {
	var (
		got     models.WebhookPayload
		headers http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(time.Second)
	ctx := logger.WithTraceID(context.Background(), "trace-1")
	require.NoError(t, d.Dispatch(ctx, server.URL, samplePayload()))

	assert.Equal(t, "breakout", got.Name)
	assert.Equal(t, "desk", got.Tag)
	assert.Equal(t, 155.0, got.OHLC.Close)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "trace-1", headers.Get("X-Trace-ID"))
	assert.NotEmpty(t, headers.Get("X-Delivery-ID"))
}

func TestWebhookDispatcher_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := NewWebhookDispatcher(time.Second).Dispatch(context.Background(), server.URL, samplePayload())
	var dErr *DispatchError
	require.True(t, errors.As(err, &dErr))
	assert.Equal(t, http.StatusInternalServerError, dErr.StatusCode)
}

func TestWebhookDispatcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	err := NewWebhookDispatcher(50*time.Millisecond).Dispatch(context.Background(), server.URL, samplePayload())
	var dErr *DispatchError
	require.True(t, errors.As(err, &dErr))
	assert.Zero(t, dErr.StatusCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWebhookDispatcher_BadURL(t *testing.T) {
	err := NewWebhookDispatcher(time.Second).Dispatch(context.Background(), "://nope", samplePayload())
	var dErr *DispatchError
	assert.True(t, errors.As(err, &dErr))
}

func TestStreamPublisher_PublishTrigger(t *testing.T) {
	redis := storage.NewMockRedisClient()
	pub := NewStreamPublisher(redis, "diting.triggers", time.Second)

	ctx := logger.WithTraceID(context.Background(), "trace-9")
	event := &TriggerEvent{TriggerID: 1, RuleID: 2, Symbol: "AAPL", Timestamp: time.Now()}
	require.NoError(t, pub.PublishTrigger(ctx, event))

	msgs := redis.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "diting.triggers", msgs[0].Stream)
	raw := msgs[0].Values["trigger"].(string)
	assert.True(t, strings.Contains(raw, `"trace_id":"trace-9"`))
}

func TestStreamPublisher_Error(t *testing.T) {
	redis := storage.NewMockRedisClient()
	redis.PublishErr = errors.New("redis down")
	pub := NewStreamPublisher(redis, "s", time.Second)

	assert.Error(t, pub.PublishTrigger(context.Background(), &TriggerEvent{}))
}
