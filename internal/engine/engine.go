package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedkhairy/diting/internal/alert"
	"github.com/mohamedkhairy/diting/internal/broker"
	"github.com/mohamedkhairy/diting/internal/models"
	"github.com/mohamedkhairy/diting/internal/rules"
	"github.com/mohamedkhairy/diting/internal/storage"
	"github.com/mohamedkhairy/diting/pkg/logger"
)

// ErrIterationPanic wraps a panic recovered from one loop iteration
var ErrIterationPanic = errors.New("engine iteration panicked")

// State is the lifecycle state of an engine
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Config holds the polling parameters of one engine
type Config struct {
	Name           string
	BrokerTag      string
	PollInterval   time.Duration
	CooldownCycles int

	// ReconcileInterval switches reconciliation from every CooldownCycles
	// iterations to a wall-clock period. Zero keeps the cycle count.
	ReconcileInterval      time.Duration
	IdleBackoff            time.Duration
	ErrorBackoff           time.Duration
	MaxConsecutiveFailures int
}

// DefaultConfig returns the default engine configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		BrokerTag:      name,
		PollInterval:   time.Second,
		CooldownCycles: 60,
		IdleBackoff:    10 * time.Second,
		ErrorBackoff:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Name)
	if c.BrokerTag == "" {
		c.BrokerTag = c.Name
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.CooldownCycles <= 0 {
		c.CooldownCycles = d.CooldownCycles
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = d.IdleBackoff
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.MaxConsecutiveFailures < 0 {
		c.MaxConsecutiveFailures = 0
	}
	if c.ReconcileInterval < 0 {
		c.ReconcileInterval = 0
	}
	return c
}

// WebhookSender delivers a trigger payload to a rule's webhook
type WebhookSender interface {
	Dispatch(ctx context.Context, url string, payload models.WebhookPayload) error
}

// TriggerPublisher receives every recorded trigger
type TriggerPublisher interface {
	PublishTrigger(ctx context.Context, event *alert.TriggerEvent) error
}

// Stats holds engine counters
type Stats struct {
	Cycles           int64     `json:"cycles"`
	Reconciliations  int64     `json:"reconciliations"`
	FetchErrors      int64     `json:"fetch_errors"`
	Evaluations      int64     `json:"evaluations"`
	EvaluationErrors int64     `json:"evaluation_errors"`
	Triggers         int64     `json:"triggers"`
	WebhookFailures  int64     `json:"webhook_failures"`
	Panics           int64     `json:"panics"`
	LastCycleAt      time.Time `json:"last_cycle_at,omitempty"`
}

// Info describes an engine for status endpoints
type Info struct {
	Name      string   `json:"name"`
	Broker    string   `json:"broker"`
	State     string   `json:"state"`
	Running   bool     `json:"running"`
	Symbols   []string `json:"symbols"`
	Rules     int      `json:"rules"`
	Cooldowns int      `json:"cooldowns"`
	Stats     Stats    `json:"stats"`
}

// QuoteEngine polls one broker for the symbols referenced by enabled rules,
// evaluates the rules against each snapshot and fires triggers.
type QuoteEngine struct {
	config    Config
	adapter   broker.Adapter
	rules     rules.EnabledRuleSource
	triggers  storage.TriggerRecorder
	webhooks  WebhookSender
	publisher TriggerPublisher
	logger    *zap.Logger

	mu      sync.RWMutex
	state   State
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	cacheMu    sync.RWMutex
	cache      map[string][]*models.Rule
	symbols    []string
	subscribed map[string]bool
	ruleCount  int

	cooldown *cooldownTable

	// touched only by the loop goroutine, or by Start before it launches
	cycle         int
	lastReconcile time.Time

	cycles           atomic.Int64
	reconciliations  atomic.Int64
	fetchErrors      atomic.Int64
	evaluations      atomic.Int64
	evaluationErrors atomic.Int64
	triggerCount     atomic.Int64
	webhookFailures  atomic.Int64
	panics           atomic.Int64
	lastCycleAt      atomic.Int64
}

// NewQuoteEngine creates an engine over a broker adapter
func NewQuoteEngine(
	config Config,
	adapter broker.Adapter,
	ruleSource rules.EnabledRuleSource,
	triggers storage.TriggerRecorder,
	webhooks WebhookSender,
) *QuoteEngine {
	config = config.withDefaults()
	closed := make(chan struct{})
	close(closed)

	return &QuoteEngine{
		config:     config,
		adapter:    adapter,
		rules:      ruleSource,
		triggers:   triggers,
		webhooks:   webhooks,
		logger:     logger.Named("engine").With(logger.String("engine", config.Name)),
		done:       closed,
		cache:      make(map[string][]*models.Rule),
		subscribed: make(map[string]bool),
		cooldown:   newCooldownTable(),
	}
}

// SetPublisher attaches an optional trigger event publisher. Call before Start.
func (e *QuoteEngine) SetPublisher(p TriggerPublisher) {
	e.publisher = p
}

func (e *QuoteEngine) Name() string {
	return e.config.Name
}

// BrokerTag is the tag matched against a rule's brokers list
func (e *QuoteEngine) BrokerTag() string {
	return e.config.BrokerTag
}

// Start performs the initial reconciliation and launches the polling loop.
// Calling Start on a running engine is a no-op.
func (e *QuoteEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("cannot start engine %s: %w", e.config.Name, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.running = true
	e.state = StateStarting
	e.cancel = cancel
	e.done = done
	e.cycle = 0
	e.lastReconcile = time.Now()
	e.mu.Unlock()

	e.logger.Info("Starting engine",
		logger.String("broker", e.config.BrokerTag),
		logger.Duration("poll_interval", e.config.PollInterval),
		logger.Int("cooldown_cycles", e.config.CooldownCycles),
	)

	// a failed initial load leaves an empty cache until the next threshold
	_ = e.reconcile(loopCtx)

	e.setState(StateRunning)
	engineRunning.WithLabelValues(e.config.Name).Set(1)

	go e.run(loopCtx, done)
	return nil
}

// Stop cancels the loop and waits for it to exit. Calling Stop on a stopped
// engine is a no-op.
func (e *QuoteEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.state = StateStopping
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	e.logger.Info("Stopping engine")
	cancel()
	<-done

	e.setState(StateStopped)
	e.logger.Info("Engine stopped")
}

// IsRunning reports whether the running flag is set and the loop has not
// exited
func (e *QuoteEngine) IsRunning() bool {
	e.mu.RLock()
	running := e.running
	done := e.done
	e.mu.RUnlock()

	if !running {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Done is closed when the current loop goroutine exits
func (e *QuoteEngine) Done() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.done
}

func (e *QuoteEngine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *QuoteEngine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Symbols returns the symbols currently polled, sorted
func (e *QuoteEngine) Symbols() []string {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	return append([]string(nil), e.symbols...)
}

// Cooldowns returns the cooldown flag of every cached rule
func (e *QuoteEngine) Cooldowns() map[int64]bool {
	return e.cooldown.Snapshot()
}

// Stats returns a snapshot of the engine counters
func (e *QuoteEngine) Stats() Stats {
	s := Stats{
		Cycles:           e.cycles.Load(),
		Reconciliations:  e.reconciliations.Load(),
		FetchErrors:      e.fetchErrors.Load(),
		Evaluations:      e.evaluations.Load(),
		EvaluationErrors: e.evaluationErrors.Load(),
		Triggers:         e.triggerCount.Load(),
		WebhookFailures:  e.webhookFailures.Load(),
		Panics:           e.panics.Load(),
	}
	if ts := e.lastCycleAt.Load(); ts > 0 {
		s.LastCycleAt = time.Unix(0, ts).UTC()
	}
	return s
}

// Info describes the engine
func (e *QuoteEngine) Info() Info {
	e.cacheMu.RLock()
	ruleCount := e.ruleCount
	e.cacheMu.RUnlock()

	return Info{
		Name:      e.config.Name,
		Broker:    e.config.BrokerTag,
		State:     e.State().String(),
		Running:   e.IsRunning(),
		Symbols:   e.Symbols(),
		Rules:     ruleCount,
		Cooldowns: e.cooldown.Active(),
		Stats:     e.Stats(),
	}
}

// run is the polling loop. It only returns on cancellation or once
// MaxConsecutiveFailures iterations in a row have failed.
func (e *QuoteEngine) run(ctx context.Context, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		if e.done == done {
			e.running = false
			e.state = StateStopped
		}
		engineRunning.WithLabelValues(e.config.Name).Set(0)
		e.mu.Unlock()
		close(done)
	}()

	failures := 0
	for ctx.Err() == nil {
		wait, err := e.iterate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			e.logger.Error("Engine iteration failed",
				logger.ErrorField(err),
				logger.Int("consecutive_failures", failures),
			)
			if limit := e.config.MaxConsecutiveFailures; limit > 0 && failures >= limit {
				e.logger.Error("Engine giving up after consecutive failures",
					logger.Int("max_consecutive_failures", limit),
				)
				return
			}
			wait = e.config.ErrorBackoff
		} else {
			failures = 0
		}

		if !sleep(ctx, wait) {
			return
		}
	}
}

// iterate runs one cycle and returns how long to wait before the next one
func (e *QuoteEngine) iterate(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			logger.CountError("engine", "panic")
			e.logger.Error("Recovered panic in engine iteration",
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrIterationPanic, r)
		}
	}()

	start := time.Now()
	ctx = logger.WithTraceID(ctx, logger.NewTraceID())
	e.cycles.Add(1)
	e.lastCycleAt.Store(start.UnixNano())
	cyclesTotal.WithLabelValues(e.config.Name).Inc()
	defer func() {
		iterationDuration.WithLabelValues(e.config.Name).Observe(time.Since(start).Seconds())
	}()

	if e.reconcileDue(start) {
		e.lastReconcile = start
		_ = e.reconcile(ctx)
	}

	return e.pollOnce(ctx)
}

// reconcileDue advances the cycle counter and reports whether the cache
// should be rebuilt on this iteration
func (e *QuoteEngine) reconcileDue(now time.Time) bool {
	if e.config.ReconcileInterval > 0 {
		return now.Sub(e.lastReconcile) >= e.config.ReconcileInterval
	}
	e.cycle++
	if e.cycle >= e.config.CooldownCycles {
		e.cycle = 0
		return true
	}
	return false
}

// reconcile reloads enabled rules for this engine's broker, regroups them by
// symbol, clears every cooldown flag and subscribes newly added symbols. On a
// read error the previous cache is kept.
func (e *QuoteEngine) reconcile(ctx context.Context) error {
	all, err := e.rules.GetEnabledRules(ctx)
	if err != nil {
		reconciliationsTotal.WithLabelValues(e.config.Name, "error").Inc()
		e.logger.Warn("Failed to reload rules, keeping previous cache", logger.ErrorField(err))
		return fmt.Errorf("failed to reload rules: %w", err)
	}

	bySymbol := make(map[string][]*models.Rule)
	ids := make([]int64, 0, len(all))
	for _, rule := range all {
		if rule == nil || !rule.Enabled || !rule.ServesBroker(e.config.BrokerTag) {
			continue
		}
		bySymbol[rule.Symbol] = append(bySymbol[rule.Symbol], rule)
		ids = append(ids, rule.ID)
	}

	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	e.cacheMu.Lock()
	e.cache = bySymbol
	e.symbols = symbols
	e.ruleCount = len(ids)
	var added []string
	for _, symbol := range symbols {
		if !e.subscribed[symbol] {
			added = append(added, symbol)
		}
	}
	e.cacheMu.Unlock()

	e.cooldown.Reset(ids)
	e.reconciliations.Add(1)
	reconciliationsTotal.WithLabelValues(e.config.Name, "ok").Inc()
	cachedRules.WithLabelValues(e.config.Name).Set(float64(len(ids)))

	if len(added) > 0 {
		if err := e.adapter.Subscribe(ctx, added); err != nil {
			// not marked subscribed, so the next reconciliation retries
			e.logger.Warn("Failed to subscribe symbols",
				logger.Strings("symbols", added),
				logger.ErrorField(err),
			)
		} else {
			e.cacheMu.Lock()
			for _, symbol := range added {
				e.subscribed[symbol] = true
			}
			e.cacheMu.Unlock()
		}
	}

	e.logger.Debug("Reconciled rules",
		logger.Int("rules", len(ids)),
		logger.Int("symbols", len(symbols)),
		logger.Int("new_symbols", len(added)),
	)
	return nil
}

// pollOnce fetches quotes for the cached symbols and checks rules against them
func (e *QuoteEngine) pollOnce(ctx context.Context) (time.Duration, error) {
	symbols := e.Symbols()
	if len(symbols) == 0 {
		return e.config.IdleBackoff, nil
	}

	if provider, ok := e.adapter.(broker.MarketStateProvider); ok {
		symbols = e.openSymbols(ctx, provider, symbols)
		if len(symbols) == 0 {
			e.logger.Debug("All markets closed")
			return e.config.IdleBackoff, nil
		}
	}

	quotes, err := e.adapter.FetchQuotes(ctx, symbols)
	if err != nil {
		e.fetchErrors.Add(1)
		fetchErrorsTotal.WithLabelValues(e.config.Name).Inc()
		logger.CountError("engine", "fetch")
		e.logger.Warn("Failed to fetch quotes",
			logger.Int("symbols", len(symbols)),
			logger.ErrorField(err),
		)
		// Fetch failures back off but never count toward MaxConsecutiveFailures.
		return e.config.ErrorBackoff, nil
	}

	snapshots := make([]*models.QuoteSnapshot, 0, len(quotes))
	for _, q := range quotes {
		snapshots = append(snapshots, models.NewQuoteSnapshot(q))
	}
	e.checkRules(ctx, snapshots)

	return e.config.PollInterval, nil
}

// openSymbols drops symbols whose market is closed. A failed state lookup
// polls every symbol.
func (e *QuoteEngine) openSymbols(ctx context.Context, provider broker.MarketStateProvider, symbols []string) []string {
	states, err := provider.GetMarketState(ctx, symbols)
	if err != nil {
		e.logger.Warn("Failed to get market state", logger.ErrorField(err))
		return symbols
	}

	open := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if state, ok := states[symbol]; ok && state == broker.MarketClosed {
			continue
		}
		open = append(open, symbol)
	}
	return open
}

// checkRules evaluates every eligible cached rule against the snapshots
func (e *QuoteEngine) checkRules(ctx context.Context, snapshots []*models.QuoteSnapshot) {
	for _, snap := range snapshots {
		e.cacheMu.RLock()
		cached := e.cache[snap.Symbol]
		e.cacheMu.RUnlock()
		if len(cached) == 0 {
			continue
		}

		fields := rules.Snapshot(snap.Fields())
		for _, rule := range cached {
			if e.cooldown.IsInvoked(rule.ID) {
				continue
			}

			e.evaluations.Add(1)
			matched, err := rules.EvaluateCondition(rule.Condition, fields)
			if err != nil {
				e.evaluationErrors.Add(1)
				evaluationErrorsTotal.WithLabelValues(e.config.Name).Inc()
				e.logger.Warn("Failed to evaluate rule",
					logger.Int64("rule_id", rule.ID),
					logger.String("rule", rule.Name),
					logger.String("symbol", snap.Symbol),
					logger.ErrorField(err),
				)
				continue
			}
			if !matched {
				continue
			}

			e.fire(ctx, rule, snap)
		}
	}
}

// fire records the trigger and delivers the webhook. Cooldown engages only
// once delivery succeeds or there is nothing to deliver.
func (e *QuoteEngine) fire(ctx context.Context, rule *models.Rule, snap *models.QuoteSnapshot) {
	log := e.logger.With(
		logger.Int64("rule_id", rule.ID),
		logger.String("rule", rule.Name),
		logger.String("symbol", snap.Symbol),
		logger.String("trace_id", logger.GetTraceID(ctx)),
	)

	message := fmt.Sprintf("rule triggered: %s %s @ %s", rule.Name, snap.Symbol, snap)
	triggerID, err := e.triggers.RecordTrigger(ctx, rule.ID, snap.Symbol, message)
	if err != nil {
		logger.CountError("engine", "record_trigger")
		log.Error("Failed to record trigger, skipping webhook", logger.ErrorField(err))
		return
	}
	e.triggerCount.Add(1)
	triggersTotal.WithLabelValues(e.config.Name).Inc()
	log.Info("Rule triggered", logger.Int64("trigger_id", triggerID), logger.String("ohlc", snap.String()))

	if e.publisher != nil {
		event := &alert.TriggerEvent{
			TriggerID: triggerID,
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			Engine:    e.config.Name,
			Symbol:    snap.Symbol,
			Tag:       rule.Tag,
			Message:   message,
			OHLC:      snap,
			Timestamp: time.Now().UTC(),
		}
		if err := e.publisher.PublishTrigger(ctx, event); err != nil {
			log.Warn("Failed to publish trigger event", logger.ErrorField(err))
		}
	}

	if rule.WebhookURL == "" {
		webhookDeliveriesTotal.WithLabelValues(e.config.Name, "skipped").Inc()
		e.cooldown.MarkInvoked(rule.ID)
		return
	}

	payload := models.WebhookPayload{
		Name:   rule.Name,
		Symbol: snap.Symbol,
		OHLC:   snap,
		Tag:    rule.Tag,
	}
	if err := e.webhooks.Dispatch(ctx, rule.WebhookURL, payload); err != nil {
		e.webhookFailures.Add(1)
		webhookDeliveriesTotal.WithLabelValues(e.config.Name, "failed").Inc()
		log.Warn("Webhook delivery failed, rule stays eligible", logger.ErrorField(err))
		return
	}

	webhookDeliveriesTotal.WithLabelValues(e.config.Name, "delivered").Inc()
	e.cooldown.MarkInvoked(rule.ID)
}

// sleep waits for d or until ctx is done. It reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
