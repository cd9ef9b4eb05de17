package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mohamedkhairy/diting/internal/models"
	"github.com/mohamedkhairy/diting/pkg/logger"
)

// DispatchError reports a failed webhook delivery: a transport error or a
// non-2xx response.
type DispatchError struct {
	URL        string
	StatusCode int // 0 for transport failures
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("webhook %s failed: %v", e.URL, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// WebhookDispatcher posts trigger payloads to rule webhooks
type WebhookDispatcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewWebhookDispatcher creates a dispatcher bounding each delivery by timeout
func NewWebhookDispatcher(timeout time.Duration) *WebhookDispatcher {
	return &WebhookDispatcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Dispatch POSTs payload as JSON to url. Any 2xx status is a success.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, url string, payload models.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{URL: url, Err: err}
	}
	deliveryID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryID)
	if traceID := logger.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return &DispatchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DispatchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	logger.WithContext(ctx).Debug("Webhook delivered",
		logger.String("url", url),
		logger.String("delivery_id", deliveryID),
		logger.Int("status", resp.StatusCode),
		logger.Duration("latency", time.Since(start)),
	)
	return nil
}
