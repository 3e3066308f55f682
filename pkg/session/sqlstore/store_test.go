package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/session"
	"github.com/dmitrymomot/modserve/pkg/session/sqlstore"
)

func openSQLite(t *testing.T, now *time.Time) *sqlstore.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "sessions.sqlite")
	s, err := sqlstore.Open(context.Background(), sqlstore.SQLite, dsn,
		sqlstore.WithLogger(logger.NewNop()),
		sqlstore.WithClock(func() time.Time { return *now }),
		sqlstore.WithGrace(time.Minute),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]sqlstore.Dialect{
		"sqlite":     sqlstore.SQLite,
		"SQLite3":    sqlstore.SQLite,
		"postgres":   sqlstore.Postgres,
		" pgx ":      sqlstore.Postgres,
		"postgresql": sqlstore.Postgres,
	} {
		got, err := sqlstore.ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := sqlstore.ParseDialect("mysql")
	assert.ErrorIs(t, err, sqlstore.ErrUnknownDialect)
}

func TestStoreSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.UnixMilli(time.Now().UnixMilli())
	s := openSQLite(t, &now)
	id := session.GenerateID("")

	t.Run("missing", func(t *testing.T) {
		_, err := s.Load(ctx, id)
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
	})

	t.Run("save and load", func(t *testing.T) {
		rec := &session.Record{
			Data:     map[string]any{"n": float64(1), "name": "bob"},
			Created:  now,
			Accessed: now,
			Timeout:  60,
		}
		require.NoError(t, s.Save(ctx, id, rec))

		got, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, rec.Data, got.Data)
		assert.True(t, rec.Created.Equal(got.Created))
		assert.True(t, rec.Accessed.Equal(got.Accessed))
		assert.Equal(t, 60, got.Timeout)
	})

	t.Run("save replaces", func(t *testing.T) {
		later := now.Add(10 * time.Second)
		rec := &session.Record{
			Data:     map[string]any{"name": "carol"},
			Created:  now,
			Accessed: later,
			Timeout:  120,
		}
		require.NoError(t, s.Save(ctx, id, rec))

		got, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "carol", got.Data["name"])
		assert.NotContains(t, got.Data, "n")
		assert.True(t, later.Equal(got.Accessed))
		assert.Equal(t, 120, got.Timeout)

		n, err := s.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, id))
		require.NoError(t, s.Delete(ctx, id))
		_, err := s.Load(ctx, id)
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
	})
}

func TestStoreCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.UnixMilli(time.Now().UnixMilli())
	s := openSQLite(t, &now)

	save := func(accessed time.Time) string {
		id := session.GenerateID("")
		require.NoError(t, s.Save(ctx, id, &session.Record{
			Data:     map[string]any{},
			Created:  accessed,
			Accessed: accessed,
			Timeout:  60,
		}))
		return id
	}

	fresh := save(now)
	inGrace := save(now.Add(-90 * time.Second))
	expired := save(now.Add(-3 * time.Minute))

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, id := range []string{fresh, inGrace} {
		_, err := s.Load(ctx, id)
		require.NoError(t, err)
	}
	_, err = s.Load(ctx, expired)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "twice.sqlite")

	for range 2 {
		s, err := sqlstore.Open(ctx, sqlstore.SQLite, dsn, sqlstore.WithLogger(logger.NewNop()))
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
}
