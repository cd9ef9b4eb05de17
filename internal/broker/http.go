package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohamedkhairy/diting/internal/models"
)

const maxResponseBytes = 4 << 20

// HTTPAdapter talks to a JSON quote gateway:
//
//	POST {base}/subscribe            {"symbols": [...]}
//	GET  {base}/quotes?symbols=A,B   {"quotes": [RawQuote...]}
//	GET  {base}/market-state?symbols=A,B {"states": {"A": "open"}}
type HTTPAdapter struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type subscribeRequest struct {
	Symbols []string `json:"symbols"`
}

type quotesResponse struct {
	Quotes []models.RawQuote `json:"quotes"`
}

type marketStateResponse struct {
	States map[string]MarketState `json:"states"`
}

// NewHTTPAdapter creates an adapter for the gateway at cfg.BaseURL
func NewHTTPAdapter(cfg Config) (*HTTPAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http adapter %s: base URL is required", cfg.Name)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("http adapter %s: invalid base URL: %w", cfg.Name, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAdapter{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (a *HTTPAdapter) Name() string {
	return a.name
}

func (a *HTTPAdapter) Subscribe(ctx context.Context, symbols []string) error {
	body, err := json.Marshal(subscribeRequest{Symbols: symbols})
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe request: %w", err)
	}
	return a.do(ctx, http.MethodPost, "/subscribe", nil, body, nil, "subscribe")
}

func (a *HTTPAdapter) FetchQuotes(ctx context.Context, symbols []string) ([]models.RawQuote, error) {
	var resp quotesResponse
	if err := a.do(ctx, http.MethodGet, "/quotes", symbolsQuery(symbols), nil, &resp, "fetch quotes"); err != nil {
		return nil, err
	}
	return resp.Quotes, nil
}

func (a *HTTPAdapter) GetMarketState(ctx context.Context, symbols []string) (map[string]MarketState, error) {
	var resp marketStateResponse
	if err := a.do(ctx, http.MethodGet, "/market-state", symbolsQuery(symbols), nil, &resp, "market state"); err != nil {
		return nil, err
	}
	return resp.States, nil
}

func (a *HTTPAdapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *HTTPAdapter) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}, op string) error {
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &FetchError{Broker: a.name, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &FetchError{Broker: a.name, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &FetchError{Broker: a.name, Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &FetchError{
			Broker:     a.name,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(data))),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &FetchError{Broker: a.name, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func symbolsQuery(symbols []string) url.Values {
	return url.Values{"symbols": []string{strings.Join(symbols, ",")}}
}

var (
	_ Adapter             = (*HTTPAdapter)(nil)
	_ MarketStateProvider = (*HTTPAdapter)(nil)
)
