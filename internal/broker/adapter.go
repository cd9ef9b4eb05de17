package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohamedkhairy/diting/internal/models"
)

// ErrUnknownAdapter is returned when the factory has no constructor for a type
var ErrUnknownAdapter = errors.New("unknown broker adapter")

// Adapter sources raw quotes for a set of symbols from one market-data provider
type Adapter interface {
	// Name returns the adapter instance name
	Name() string

	// Subscribe tells the provider which symbols will be polled
	Subscribe(ctx context.Context, symbols []string) error

	// FetchQuotes returns the latest quote rows for the given symbols.
	// Failures are reported as *FetchError.
	FetchQuotes(ctx context.Context, symbols []string) ([]models.RawQuote, error)

	// Close releases provider resources
	Close() error
}

// MarketState is the trading-session state of a symbol
type MarketState string

const (
	MarketOpen   MarketState = "open"
	MarketClosed MarketState = "closed"
)

// MarketStateProvider is implemented by adapters that can report trading
// sessions, letting the engine skip symbols outside trading hours.
type MarketStateProvider interface {
	GetMarketState(ctx context.Context, symbols []string) (map[string]MarketState, error)
}

// FetchError reports a failed call to the quote provider
type FetchError struct {
	Broker     string
	Op         string
	StatusCode int // 0 for transport failures
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("broker %s: %s failed with status %d: %v", e.Broker, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("broker %s: %s failed: %v", e.Broker, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Config holds configuration for an adapter
type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Factory creates adapters by type name
type Factory struct {
	mu        sync.RWMutex
	factories map[string]func(Config) (Adapter, error)
}

// NewFactory creates a factory with the built-in adapters registered
func NewFactory() *Factory {
	f := &Factory{
		factories: make(map[string]func(Config) (Adapter, error)),
	}

	f.Register("mock", func(cfg Config) (Adapter, error) {
		return NewRandomWalkAdapter(cfg.Name), nil
	})
	f.Register("http", func(cfg Config) (Adapter, error) {
		return NewHTTPAdapter(cfg)
	})

	return f
}

// Create creates a new adapter instance
func (f *Factory) Create(adapterType string, cfg Config) (Adapter, error) {
	f.mu.RLock()
	fn, exists := f.factories[adapterType]
	f.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, adapterType)
	}
	return fn(cfg)
}

// Register registers an adapter constructor
func (f *Factory) Register(adapterType string, fn func(Config) (Adapter, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.factories[adapterType]; exists {
		return fmt.Errorf("adapter type already registered: %s", adapterType)
	}
	f.factories[adapterType] = fn
	return nil
}

// List returns the registered adapter types, sorted
func (f *Factory) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.factories))
	for t := range f.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
