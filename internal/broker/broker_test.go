package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohamedkhairy/diting/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	f := NewFactory()
	assert.Equal(t, []string{"http", "mock"}, f.List())

	a, err := f.Create("mock", Config{Name: "sim"})
	require.NoError(t, err)
	assert.Equal(t, "sim", a.Name())

	_, err = f.Create("grpc", Config{})
	assert.ErrorIs(t, err, ErrUnknownAdapter)

	_, err = f.Create("http", Config{Name: "gw"})
	assert.Error(t, err, "base URL required")

	assert.Error(t, f.Register("mock", nil))
}

func TestMockAdapter_Scripted(t *testing.T) {
	ctx := context.Background()
	m := NewMockAdapter("futu")
	m.SetQuote(models.RawQuote{Symbol: "AAPL", Last: 155})

	require.NoError(t, m.Subscribe(ctx, []string{"AAPL", "MSFT"}))
	assert.Equal(t, []string{"AAPL", "MSFT"}, m.Subscribed())

	quotes, err := m.FetchQuotes(ctx, []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, 155.0, quotes[0].Last)

	m.SetFetchError(errors.New("rate limited"))
	_, err = m.FetchQuotes(ctx, []string{"AAPL"})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "futu", fetchErr.Broker)
	assert.Equal(t, 2, m.FetchCount())
}

func TestMockAdapter_RandomWalk(t *testing.T) {
	m := NewRandomWalkAdapter("sim")
	quotes, err := m.FetchQuotes(context.Background(), []string{"AAPL", "TSLA"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	for _, q := range quotes {
		assert.Greater(t, q.Last, 0.0)
		assert.GreaterOrEqual(t, q.High, q.Last)
		assert.LessOrEqual(t, q.Low, q.Last)
	}
}

func TestMockAdapter_MarketState(t *testing.T) {
	m := NewMockAdapter("futu")
	m.SetMarketState("0700.HK", MarketClosed)

	states, err := m.GetMarketState(context.Background(), []string{"0700.HK", "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, MarketClosed, states["0700.HK"])
	assert.Equal(t, MarketOpen, states["AAPL"])
}

func TestHTTPAdapter(t *testing.T) {
	var subscribed []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/subscribe":
			var req subscribeRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			subscribed = req.Symbols
			w.WriteHeader(http.StatusNoContent)
		case "/quotes":
			assert.Equal(t, "AAPL,MSFT", r.URL.Query().Get("symbols"))
			json.NewEncoder(w).Encode(quotesResponse{Quotes: []models.RawQuote{
				{Symbol: "AAPL", Open: 150, High: 156, Low: 149, Last: 155, PrevClose: 150, Volume: 10},
			}})
		case "/market-state":
			json.NewEncoder(w).Encode(marketStateResponse{States: map[string]MarketState{"AAPL": MarketOpen}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	a, err := NewHTTPAdapter(Config{Name: "gw", BaseURL: server.URL + "/", APIKey: "secret"})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Subscribe(ctx, []string{"AAPL", "MSFT"}))
	assert.Equal(t, []string{"AAPL", "MSFT"}, subscribed)

	quotes, err := a.FetchQuotes(ctx, []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, 155.0, quotes[0].Last)
	assert.Equal(t, 150.0, quotes[0].PrevClose)

	states, err := a.GetMarketState(ctx, []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, MarketOpen, states["AAPL"])
}

func TestHTTPAdapter_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	a, err := NewHTTPAdapter(Config{Name: "gw", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = a.FetchQuotes(context.Background(), []string{"AAPL"})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusTooManyRequests, fetchErr.StatusCode)
	assert.Contains(t, err.Error(), "slow down")
}

func TestHTTPAdapter_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	a, err := NewHTTPAdapter(Config{Name: "gw", BaseURL: url})
	require.NoError(t, err)

	_, err = a.FetchQuotes(context.Background(), []string{"AAPL"})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.StatusCode)
}
