package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/diting/internal/broker"
	"github.com/mohamedkhairy/diting/internal/rules"
	"github.com/mohamedkhairy/diting/internal/storage"
)

func newTestEngine(name string, store *rules.InMemoryRuleStore) *QuoteEngine {
	cfg := testConfig(name)
	return NewQuoteEngine(cfg, broker.NewMockAdapter(name), store, storage.NewMockTriggerStorage(), &recordingSender{})
}

func TestManager_RegisterAndEngines(t *testing.T) {
	store := rules.NewInMemoryRuleStore()
	m := NewManager()

	require.NoError(t, m.Register(newTestEngine("tiger", store)))
	require.NoError(t, m.Register(newTestEngine("futu", store)))

	assert.Equal(t, []string{"futu", "tiger"}, m.Engines())
	assert.Equal(t, map[string]bool{"futu": false, "tiger": false}, m.Status())

	e, ok := m.Get("futu")
	assert.True(t, ok)
	assert.Equal(t, "futu", e.Name())

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestManager_StartAllStopAll(t *testing.T) {
	store := rules.NewInMemoryRuleStore()
	m := NewManager()
	require.NoError(t, m.Register(newTestEngine("futu", store)))
	require.NoError(t, m.Register(newTestEngine("tiger", store)))

	require.NoError(t, m.StartAll(context.Background()))
	assert.Equal(t, map[string]bool{"futu": true, "tiger": true}, m.Status())

	// idempotent while running
	require.NoError(t, m.StartAll(context.Background()))

	details := m.Details()
	require.Len(t, details, 2)
	assert.Equal(t, "futu", details[0].Name)
	assert.Equal(t, "running", details[0].State)

	m.StopAll()
	assert.Equal(t, map[string]bool{"futu": false, "tiger": false}, m.Status())

	// restartable after teardown
	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.Status()["futu"])
	m.StopAll()
}

func TestManager_RegisterReplacesAndStopsPrevious(t *testing.T) {
	store := rules.NewInMemoryRuleStore()
	m := NewManager()
	old := newTestEngine("futu", store)
	require.NoError(t, m.Register(old))
	require.NoError(t, m.StartAll(context.Background()))
	require.True(t, old.IsRunning())

	replacement := newTestEngine("futu", store)
	require.NoError(t, m.Register(replacement))

	assert.False(t, old.IsRunning())
	assert.True(t, replacement.IsRunning())
	assert.Equal(t, []string{"futu"}, m.Engines())

	m.StopAll()
	assert.False(t, replacement.IsRunning())
}

func TestManager_StartStopEngine(t *testing.T) {
	store := rules.NewInMemoryRuleStore()
	m := NewManager()
	require.NoError(t, m.Register(newTestEngine("futu", store)))
	require.NoError(t, m.Register(newTestEngine("tiger", store)))

	require.NoError(t, m.StartEngine(context.Background(), "futu"))
	assert.Equal(t, map[string]bool{"futu": true, "tiger": false}, m.Status())

	require.NoError(t, m.StopEngine("futu"))
	assert.False(t, m.Status()["futu"])

	assert.ErrorIs(t, m.StartEngine(context.Background(), "nope"), ErrEngineNotFound)
	assert.ErrorIs(t, m.StopEngine("nope"), ErrEngineNotFound)
	m.StopAll()
}

func TestManager_ParentCancellationStopsEngines(t *testing.T) {
	store := rules.NewInMemoryRuleStore()
	m := NewManager()
	e := newTestEngine("futu", store)
	require.NoError(t, m.Register(e))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.StartAll(ctx))
	cancel()

	require.Eventually(t, func() bool { return !m.Status()["futu"] }, 2*time.Second, 5*time.Millisecond)
	m.StopAll()
}
