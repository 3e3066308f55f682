package fsstore_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/session"
	"github.com/dmitrymomot/modserve/pkg/session/fsstore"
)

func newStore(t *testing.T, now *time.Time, opts ...fsstore.Option) (*fsstore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	base := []fsstore.Option{
		fsstore.WithLogger(logger.NewNop()),
		fsstore.WithClock(func() time.Time { return *now }),
		fsstore.WithTimeSlice(0),
	}
	s, err := fsstore.New(dir, append(base, opts...)...)
	require.NoError(t, err)
	return s, dir
}

func record(accessed time.Time, timeout int) *session.Record {
	return &session.Record{
		Data:     map[string]any{"user": "alice"},
		Created:  accessed,
		Accessed: accessed,
		Timeout:  timeout,
	}
}

func TestStoreCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	s, dir := newStore(t, &now)
	id := session.GenerateID("127.0.0.1")

	_, err := s.Load(ctx, id)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	require.NoError(t, s.Save(ctx, id, record(now, 60)))
	assert.FileExists(t, filepath.Join(dir, id[:2], id))

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Data["user"])
	assert.Equal(t, 60, got.Timeout)

	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Load(ctx, id)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestStoreRejectsInvalidIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	s, _ := newStore(t, &now)

	for _, id := range []string{"", "../../etc/passwd", "zz"} {
		_, err := s.Load(ctx, id)
		assert.ErrorIs(t, err, session.ErrInvalidSessionID, id)
		assert.ErrorIs(t, s.Save(ctx, id, record(now, 60)), session.ErrInvalidSessionID, id)
	}
}

func TestStoreCorruptRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	s, dir := newStore(t, &now, fsstore.WithFastCleanup(false))
	id := session.GenerateID("")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, id[:2]), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id[:2], id), []byte("{nope"), 0o640))

	_, err := s.Load(ctx, id)
	assert.ErrorIs(t, err, session.ErrCorruptRecord)

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, filepath.Join(dir, id[:2], id))
}

func TestCleanupVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	s, dir := newStore(t, &now,
		fsstore.WithFastCleanup(false),
		fsstore.WithGrace(time.Minute),
	)

	fresh := session.GenerateID("a")
	stale := session.GenerateID("b")
	require.NoError(t, s.Save(ctx, fresh, record(now, 60)))
	require.NoError(t, s.Save(ctx, stale, record(now.Add(-3*time.Minute), 60)))

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Load(ctx, fresh)
	require.NoError(t, err)
	_, err = s.Load(ctx, stale)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	st := s.ReadStatus()
	assert.Equal(t, 0, st.Next)
	assert.Equal(t, 1, st.Expired)
	assert.Equal(t, 2, st.Total)
	assert.FileExists(t, filepath.Join(dir, "fs_status.txt"))
}

func TestCleanupFastUsesModTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	s, dir := newStore(t, &now,
		fsstore.WithVerifyCleanup(false),
		fsstore.WithDefaultTimeout(time.Minute),
		fsstore.WithGrace(0),
	)

	young := session.GenerateID("a")
	old := session.GenerateID("b")
	// The record contents claim both are fresh; only mtime matters here.
	require.NoError(t, s.Save(ctx, young, record(now, 60)))
	require.NoError(t, s.Save(ctx, old, record(now, 60)))
	past := now.Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, old[:2], old), past, past))

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Load(ctx, young)
	require.NoError(t, err)
	_, err = s.Load(ctx, old)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestCleanupFastThenVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	s, dir := newStore(t, &now,
		fsstore.WithDefaultTimeout(time.Minute),
		fsstore.WithGrace(0),
	)

	// Old on disk, but the record carries a long timeout.
	id := session.GenerateID("a")
	require.NoError(t, s.Save(ctx, id, record(now.Add(-time.Hour), 7200)))
	past := now.Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, id[:2], id), past, past))

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = s.Load(ctx, id)
	require.NoError(t, err)
}

func TestCleanupResumesFromStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	s, dir := newStore(t, &now, fsstore.WithFastCleanup(false))

	// Pretend an earlier sweep stopped before shard 0x80.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fs_status.txt"), []byte("1 128 3 10 0.500\n"), 0o640))

	var low, high string
	for low == "" || high == "" {
		id := session.GenerateID("x")
		if id[0] < '8' && low == "" {
			low = id
		} else if id[0] >= '8' && high == "" {
			high = id
		}
	}
	expired := now.Add(-time.Hour)
	require.NoError(t, s.Save(ctx, low, record(expired, 60)))
	require.NoError(t, s.Save(ctx, high, record(expired, 60)))

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Load(ctx, low)
	require.NoError(t, err, "shards before the resume index are not visited")

	st := s.ReadStatus()
	assert.Equal(t, 0, st.Next)
	assert.Equal(t, 4, st.Expired)

	n, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCleanupStopsAtTimeSlice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Now()
	calls := 0
	// Every clock read advances one second; a 5s slice stops after a few shards.
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	var buf bytes.Buffer
	s, err := fsstore.New(t.TempDir(),
		fsstore.WithLogger(logger.New(logger.WithOutput(&buf), logger.WithJSONFormatter())),
		fsstore.WithClock(clock),
		fsstore.WithTimeSlice(5*time.Second),
	)
	require.NoError(t, err)

	_, err = s.Cleanup(ctx)
	require.NoError(t, err)
	st := s.ReadStatus()
	assert.Greater(t, st.Next, 0)
	assert.Less(t, st.Next, 256)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record), buf.String())
	assert.Equal(t, "session sweep paused", record["msg"])
	assert.Equal(t, "INFO", record["level"])
	assert.EqualValues(t, st.Next, record["next"])
	assert.Contains(t, record, "expired")
	assert.Contains(t, record, "total")
	assert.Contains(t, record, "duration_ms")
}

func TestCleanupSentinel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	s, dir := newStore(t, &now, fsstore.WithStaleLockAfter(time.Minute))
	lock := filepath.Join(dir, ".fs_cleanup.lock")

	require.NoError(t, os.WriteFile(lock, []byte("1\n"), 0o640))
	_, err := s.Cleanup(ctx)
	assert.ErrorIs(t, err, fsstore.ErrCleanupRunning)

	past := now.Add(-time.Hour)
	require.NoError(t, os.Chtimes(lock, past, past))
	_, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.NoFileExists(t, lock)
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	st, err := fsstore.ParseStatus("1 17 4 99 1.250\n")
	require.NoError(t, err)
	assert.Equal(t, fsstore.Status{Version: 1, Next: 17, Expired: 4, Total: 99, Elapsed: 1250 * time.Millisecond}, st)
	assert.Equal(t, "1 17 4 99 1.250", st.String())

	_, err = fsstore.ParseStatus("1 2 3")
	assert.Error(t, err)

	st, err = fsstore.ParseStatus("1 999 0 0 0")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Next)
}
