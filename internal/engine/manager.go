package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mohamedkhairy/diting/pkg/logger"
)

// ErrEngineNotFound is returned for an unknown engine name
var ErrEngineNotFound = errors.New("engine not found")

// Engine is what the Manager supervises
type Engine interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
	Done() <-chan struct{}
	Info() Info
}

// scheduler is the shared root context every engine loop runs under. The
// wait group tracks live loops so teardown can wait for all of them.
type scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newScheduler(parent context.Context) *scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &scheduler{ctx: ctx, cancel: cancel}
}

func (s *scheduler) launch(e Engine) error {
	if err := e.Start(s.ctx); err != nil {
		return err
	}
	done := e.Done()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-done
	}()
	return nil
}

func (s *scheduler) shutdown() {
	s.cancel()
	s.wg.Wait()
}

// Manager registers engines by name and runs them on a shared scheduler
type Manager struct {
	mu      sync.RWMutex
	engines map[string]Engine
	sched   *scheduler
	logger  *zap.Logger
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		engines: make(map[string]Engine),
		logger:  logger.Named("manager"),
	}
}

// Register adds an engine, replacing any engine with the same name. A
// replaced engine is stopped. When the manager is running the new engine is
// started on the shared scheduler.
func (m *Manager) Register(e Engine) error {
	name := e.Name()

	m.mu.Lock()
	previous, replaced := m.engines[name]
	m.engines[name] = e
	sched := m.sched
	m.mu.Unlock()

	if replaced && previous != e {
		previous.Stop()
		m.logger.Info("Replaced engine", logger.String("engine", name))
	} else {
		m.logger.Info("Registered engine", logger.String("engine", name))
	}

	if sched != nil {
		if err := sched.launch(e); err != nil {
			return fmt.Errorf("failed to start engine %s: %w", name, err)
		}
	}
	return nil
}

// Get returns a registered engine
func (m *Manager) Get(name string) (Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[name]
	return e, ok
}

// StartAll starts every registered engine, creating the shared scheduler on
// first use. Engines already running are left alone.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.sched == nil {
		m.sched = newScheduler(ctx)
	}
	sched := m.sched
	engines := m.sortedLocked()
	m.mu.Unlock()

	var errs []error
	for _, e := range engines {
		if e.IsRunning() {
			continue
		}
		if err := sched.launch(e); err != nil {
			m.logger.Error("Failed to start engine", logger.String("engine", e.Name()), logger.ErrorField(err))
			errs = append(errs, fmt.Errorf("engine %s: %w", e.Name(), err))
		}
	}

	m.logger.Info("Engines started", logger.Int("count", len(engines)-len(errs)))
	return errors.Join(errs...)
}

// StopAll stops every engine and tears the scheduler down
func (m *Manager) StopAll() {
	m.mu.Lock()
	engines := m.sortedLocked()
	sched := m.sched
	m.sched = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func(e Engine) {
			defer wg.Done()
			e.Stop()
		}(e)
	}
	wg.Wait()

	if sched != nil {
		sched.shutdown()
	}
	m.logger.Info("Engines stopped", logger.Int("count", len(engines)))
}

// StartEngine starts one engine on the shared scheduler
func (m *Manager) StartEngine(ctx context.Context, name string) error {
	m.mu.Lock()
	e, ok := m.engines[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEngineNotFound, name)
	}
	if m.sched == nil {
		m.sched = newScheduler(ctx)
	}
	sched := m.sched
	m.mu.Unlock()

	if e.IsRunning() {
		return nil
	}
	return sched.launch(e)
}

// StopEngine stops one engine
func (m *Manager) StopEngine(name string) error {
	e, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEngineNotFound, name)
	}
	e.Stop()
	return nil
}

// Status maps engine name to IsRunning
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.engines))
	for name, e := range m.engines {
		status[name] = e.IsRunning()
	}
	return status
}

// Engines returns the registered engine names, sorted
func (m *Manager) Engines() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Details describes every engine, sorted by name
func (m *Manager) Details() []Info {
	m.mu.RLock()
	engines := m.sortedLocked()
	m.mu.RUnlock()

	out := make([]Info, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Info())
	}
	return out
}

func (m *Manager) sortedLocked() []Engine {
	engines := make([]Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	sort.Slice(engines, func(i, j int) bool { return engines[i].Name() < engines[j].Name() })
	return engines
}

var _ Engine = (*QuoteEngine)(nil)
