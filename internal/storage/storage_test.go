package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/mohamedkhairy/diting/internal/config"
	"github.com/mohamedkhairy/diting/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), config.DatabaseConfig{
		Driver: DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "diting.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &DB{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.Rebind("a = ?"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.True(t, IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: rules.name (2067)")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.InitSchema(context.Background()))
}

func TestSQLTriggerStorage(t *testing.T) {
	ctx := context.Background()
	store := NewSQLTriggerStorage(openTestDB(t))

	id1, err := store.RecordTrigger(ctx, 1, "AAPL", "first")
	require.NoError(t, err)
	id2, err := store.RecordTrigger(ctx, 2, "MSFT", "second")
	require.NoError(t, err)
	id3, err := store.RecordTrigger(ctx, 1, "AAPL", "third")
	require.NoError(t, err)
	assert.True(t, id1 < id2 && id2 < id3)

	all, err := store.GetTriggers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, id3, all[0].ID, "newest first")
	assert.False(t, all[0].CreatedAt.IsZero())

	limited, err := store.GetTriggers(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	bySymbol, err := store.GetTriggersBySymbol(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, bySymbol, 2)
	for _, tr := range bySymbol {
		assert.Equal(t, "AAPL", tr.Symbol)
	}

	byRule, err := store.GetTriggersByRule(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, byRule, 1)
	assert.Equal(t, "second", byRule[0].Message)

	require.NoError(t, store.DeleteTrigger(ctx, id2))
	err = store.DeleteTrigger(ctx, id2)
	assert.ErrorIs(t, err, models.ErrTriggerNotFound)

	n, err := store.ClearTriggers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err = store.GetTriggers(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLTriggerStorage_PurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	store := NewSQLTriggerStorage(openTestDB(t))

	_, err := store.RecordTrigger(ctx, 1, "AAPL", "old")
	require.NoError(t, err)

	n, err := store.PurgeOlderThan(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = store.PurgeOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMockTriggerStorage(t *testing.T) {
	ctx := context.Background()
	m := NewMockTriggerStorage()

	_, err := m.RecordTrigger(ctx, 7, "AAPL", "x")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())

	m.SetRecordErr(errors.New("db down"))
	_, err = m.RecordTrigger(ctx, 7, "AAPL", "y")
	assert.Error(t, err)
	assert.Equal(t, 1, m.Count())
}
