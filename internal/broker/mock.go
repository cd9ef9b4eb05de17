package broker

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mohamedkhairy/diting/internal/models"
)

// MockAdapter serves scripted quotes. Symbols without a scripted quote are
// omitted from fetch results unless the adapter random-walks.
type MockAdapter struct {
	name string

	mu         sync.Mutex
	quotes     map[string]models.RawQuote
	states     map[string]MarketState
	subscribed map[string]bool
	fetchErr   error
	fetches    int
	walk       bool
	rng        *rand.Rand
}

// NewMockAdapter creates a scripted adapter
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{
		name:       name,
		quotes:     make(map[string]models.RawQuote),
		states:     make(map[string]MarketState),
		subscribed: make(map[string]bool),
	}
}

// NewRandomWalkAdapter creates an adapter that invents a drifting quote for
// every subscribed symbol. Useful for demos without a quote provider.
func NewRandomWalkAdapter(name string) *MockAdapter {
	m := NewMockAdapter(name)
	m.walk = true
	m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	return m
}

func (m *MockAdapter) Name() string {
	return m.name
}

// SetQuote scripts the quote returned for a symbol
func (m *MockAdapter) SetQuote(q models.RawQuote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Symbol] = q
}

// SetFetchError makes FetchQuotes fail until cleared with nil
func (m *MockAdapter) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// SetMarketState scripts the session state of a symbol
func (m *MockAdapter) SetMarketState(symbol string, state MarketState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[symbol] = state
}

// FetchCount returns the number of FetchQuotes calls
func (m *MockAdapter) FetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// Subscribed returns the subscribed symbols, sorted
func (m *MockAdapter) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subscribed))
	for s := range m.subscribed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *MockAdapter) Subscribe(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range symbols {
		m.subscribed[s] = true
	}
	return nil
}

func (m *MockAdapter) FetchQuotes(ctx context.Context, symbols []string) ([]models.RawQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches++
	if m.fetchErr != nil {
		return nil, &FetchError{Broker: m.name, Op: "fetch quotes", Err: m.fetchErr}
	}

	quotes := make([]models.RawQuote, 0, len(symbols))
	for _, s := range symbols {
		q, ok := m.quotes[s]
		if m.walk {
			q = m.step(s, q, ok)
			ok = true
		}
		if ok {
			q.Timestamp = time.Now().UTC()
			quotes = append(quotes, q)
		}
	}
	return quotes, nil
}

// step moves a walking quote by up to 1% and keeps the session extremes
func (m *MockAdapter) step(symbol string, q models.RawQuote, seen bool) models.RawQuote {
	if !seen {
		price := 50 + m.rng.Float64()*150
		q = models.RawQuote{Symbol: symbol, Open: price, High: price, Low: price, Last: price, PrevClose: price}
	}
	q.Last *= 1 + (m.rng.Float64()-0.5)*0.02
	if q.Last > q.High {
		q.High = q.Last
	}
	if q.Last < q.Low {
		q.Low = q.Last
	}
	q.Volume += int64(m.rng.Intn(1000))
	m.quotes[symbol] = q
	return q
}

func (m *MockAdapter) GetMarketState(ctx context.Context, symbols []string) (map[string]MarketState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]MarketState, len(symbols))
	for _, s := range symbols {
		state, ok := m.states[s]
		if !ok {
			state = MarketOpen
		}
		states[s] = state
	}
	return states, nil
}

func (m *MockAdapter) Close() error {
	return nil
}

var (
	_ Adapter             = (*MockAdapter)(nil)
	_ MarketStateProvider = (*MockAdapter)(nil)
)
