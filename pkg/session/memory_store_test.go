package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/modserve/pkg/session"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("save load delete", func(t *testing.T) {
		s := session.NewMemoryStore(0)
		rec := &session.Record{Data: map[string]any{"n": 1}, Created: time.Now(), Accessed: time.Now(), Timeout: 60}
		require.NoError(t, s.Save(ctx, "a", rec))

		got, err := s.Load(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Data["n"])
		assert.Equal(t, 60, got.Timeout)

		require.NoError(t, s.Delete(ctx, "a"))
		_, err = s.Load(ctx, "a")
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
		require.NoError(t, s.Delete(ctx, "a"))
	})

	t.Run("records are isolated from callers", func(t *testing.T) {
		s := session.NewMemoryStore(0)
		rec := &session.Record{Data: map[string]any{"k": "v"}, Accessed: time.Now(), Timeout: 60}
		require.NoError(t, s.Save(ctx, "a", rec))
		rec.Data["k"] = "changed"

		got, err := s.Load(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "v", got.Data["k"])

		got.Data["k"] = "changed again"
		again, err := s.Load(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "v", again.Data["k"])
	})

	t.Run("cleanup removes only expired records and is idempotent", func(t *testing.T) {
		s := session.NewMemoryStore(0)
		now := time.Now()
		require.NoError(t, s.Save(ctx, "old", &session.Record{Accessed: now.Add(-2 * time.Hour), Timeout: 60}))
		require.NoError(t, s.Save(ctx, "fresh", &session.Record{Accessed: now, Timeout: 3600}))

		n, err := s.Cleanup(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, s.Len())

		n, err = s.Cleanup(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("grace keeps recently expired records", func(t *testing.T) {
		s := session.NewMemoryStore(0).WithGrace(time.Hour)
		require.NoError(t, s.Save(ctx, "late", &session.Record{Accessed: time.Now().Add(-2 * time.Minute), Timeout: 60}))
		n, err := s.Cleanup(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("background sweep", func(t *testing.T) {
		s := session.NewMemoryStore(5 * time.Millisecond)
		t.Cleanup(func() { _ = s.Close() })
		require.NoError(t, s.Save(ctx, "old", &session.Record{Accessed: time.Now().Add(-time.Hour), Timeout: 1}))
		assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	})
}
