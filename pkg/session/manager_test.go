package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/modserve/pkg/cookie"
	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/session"
)

func newManager(store session.Store, opts ...session.Option) *session.Manager {
	base := []session.Option{
		session.WithLogger(logger.NewNop()),
		session.WithCleanupChance(0),
	}
	return session.New(store, append(base, opts...)...)
}

// request builds a request context carrying the given Cookie header.
func request(cookieHeader string) (*session.HTTPContext, *httptest.ResponseRecorder) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookieHeader != "" {
		r.Header.Set("Cookie", cookieHeader)
	}
	w := httptest.NewRecorder()
	return session.NewHTTPContext(w, r), w
}

func setCookie(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	header := w.Header().Get("Set-Cookie")
	require.NotEmpty(t, header)
	return strings.SplitN(header, ";", 2)[0]
}

func TestManagerOpen(t *testing.T) {
	t.Parallel()

	t.Run("new session without cookie", func(t *testing.T) {
		m := newManager(session.NewMemoryStore(0))
		rc, w := request("")
		defer rc.Finish()

		s, err := m.Open(rc)
		require.NoError(t, err)
		assert.True(t, s.IsNew())
		assert.True(t, session.ValidateID(s.ID()))
		assert.True(t, s.IsLocked())
		assert.Equal(t, 30*time.Minute, s.Timeout())
		assert.False(t, s.Created().IsZero())

		header := w.Header().Get("Set-Cookie")
		assert.True(t, strings.HasPrefix(header, session.DefaultCookieName+"="+s.ID()))
		assert.Contains(t, header, "HttpOnly")
		assert.Equal(t, session.DefaultCookieName, m.CookieName())
	})

	t.Run("resume saved session", func(t *testing.T) {
		store := session.NewMemoryStore(0)
		m := newManager(store)

		rc1, w1 := request("")
		s1, err := m.Open(rc1)
		require.NoError(t, err)
		s1.Set("user", "alice")
		s1.Set("visits", 3)
		require.NoError(t, s1.Save(context.Background()))
		rc1.Finish()
		assert.False(t, s1.IsLocked())

		rc2, w2 := request(setCookie(t, w1))
		defer rc2.Finish()
		s2, err := m.Open(rc2)
		require.NoError(t, err)
		assert.False(t, s2.IsNew())
		assert.Equal(t, s1.ID(), s2.ID())
		user, _ := s2.GetString("user")
		assert.Equal(t, "alice", user)
		visits, _ := s2.GetInt("visits")
		assert.Equal(t, 3, visits)
		assert.Empty(t, w2.Header().Get("Set-Cookie"))
	})

	t.Run("expired record yields a new session", func(t *testing.T) {
		store := session.NewMemoryStore(0)
		now := time.Now()
		clock := func() time.Time { return now }
		m := newManager(store, session.WithClock(clock), session.WithTimeout(time.Minute))

		rc1, w1 := request("")
		s1, err := m.Open(rc1)
		require.NoError(t, err)
		require.NoError(t, s1.Save(context.Background()))
		rc1.Finish()

		now = now.Add(61 * time.Second)
		rc2, _ := request(setCookie(t, w1))
		defer rc2.Finish()
		s2, err := m.Open(rc2)
		require.NoError(t, err)
		assert.True(t, s2.IsNew())
		assert.NotEqual(t, s1.ID(), s2.ID())
	})

	t.Run("session at exactly the timeout is still valid", func(t *testing.T) {
		store := session.NewMemoryStore(0)
		now := time.Now()
		m := newManager(store, session.WithClock(func() time.Time { return now }), session.WithTimeout(time.Minute))

		rc1, w1 := request("")
		s1, err := m.Open(rc1)
		require.NoError(t, err)
		require.NoError(t, s1.Save(context.Background()))
		rc1.Finish()

		now = now.Add(time.Minute)
		rc2, _ := request(setCookie(t, w1))
		defer rc2.Finish()
		s2, err := m.Open(rc2)
		require.NoError(t, err)
		assert.False(t, s2.IsNew())
	})

	t.Run("malformed cookie id is dropped silently", func(t *testing.T) {
		store := new(MockStore)
		m := newManager(store)
		rc, _ := request(session.DefaultCookieName + "=../../etc/passwd")
		defer rc.Finish()

		s, err := m.Open(rc)
		require.NoError(t, err)
		assert.True(t, s.IsNew())
		store.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
	})

	t.Run("malformed explicit id fails", func(t *testing.T) {
		m := newManager(session.NewMemoryStore(0))
		rc, _ := request("")
		defer rc.Finish()

		_, err := m.Open(rc, session.WithID("../../etc/passwd"))
		assert.ErrorIs(t, err, session.ErrInvalidSessionID)
	})

	t.Run("explicit id resumes", func(t *testing.T) {
		store := session.NewMemoryStore(0)
		id := session.GenerateID("")
		require.NoError(t, store.Save(context.Background(), id, &session.Record{
			Data: map[string]any{"k": "v"}, Created: time.Now(), Accessed: time.Now(), Timeout: 600,
		}))
		m := newManager(store)
		rc, _ := request("")
		defer rc.Finish()

		s, err := m.Open(rc, session.WithID(id))
		require.NoError(t, err)
		assert.False(t, s.IsNew())
		assert.Equal(t, 10*time.Minute, s.Timeout())
	})

	t.Run("custom cookie name", func(t *testing.T) {
		m := newManager(session.NewMemoryStore(0), session.WithCookieName("sid"))
		rc, w := request("")
		defer rc.Finish()
		_, err := m.Open(rc)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(w.Header().Get("Set-Cookie"), "sid="))
	})

	t.Run("no store", func(t *testing.T) {
		m := newManager(nil)
		rc, _ := request("")
		_, err := m.Open(rc)
		assert.ErrorIs(t, err, session.ErrNoStore)
	})
}

func TestManagerSignedCookies(t *testing.T) {
	t.Parallel()
	const secret = "s3cr3t"

	t.Run("signed round trip", func(t *testing.T) {
		store := session.NewMemoryStore(0)
		m := newManager(store, session.WithSecret(secret))

		rc1, w1 := request("")
		s1, err := m.Open(rc1)
		require.NoError(t, err)
		require.NoError(t, s1.Save(context.Background()))
		rc1.Finish()

		pair := setCookie(t, w1)
		assert.Len(t, strings.SplitN(pair, "=", 2)[1], cookie.SignatureLength+session.IDLength)

		rc2, _ := request(pair)
		defer rc2.Finish()
		s2, err := m.Open(rc2)
		require.NoError(t, err)
		assert.Equal(t, s1.ID(), s2.ID())
	})

	t.Run("tampered cookie is ignored by default", func(t *testing.T) {
		store := session.NewMemoryStore(0)
		m := newManager(store, session.WithSecret(secret))
		id := session.GenerateID("")
		require.NoError(t, store.Save(context.Background(), id, &session.Record{Accessed: time.Now(), Timeout: 600}))

		forged := session.DefaultCookieName + "=" + strings.Repeat("0", cookie.SignatureLength) + id
		rc, _ := request(forged)
		defer rc.Finish()
		s, err := m.Open(rc)
		require.NoError(t, err)
		assert.True(t, s.IsNew())
		assert.NotEqual(t, id, s.ID())
	})

	t.Run("exception policy surfaces the mismatch", func(t *testing.T) {
		m := newManager(session.NewMemoryStore(0), session.WithSecret(secret))
		forged := session.DefaultCookieName + "=" + strings.Repeat("0", cookie.SignatureLength) + session.GenerateID("")
		rc, _ := request(forged)
		defer rc.Finish()
		_, err := m.Open(rc, session.WithMismatchPolicy(cookie.Exception))
		assert.ErrorIs(t, err, cookie.ErrSignatureMismatch)
	})

	t.Run("exception policy ignores unrelated cookies", func(t *testing.T) {
		store := session.NewMemoryStore(0)
		m := newManager(store, session.WithSecret(secret))
		id := session.GenerateID("")
		require.NoError(t, store.Save(context.Background(), id, &session.Record{Accessed: time.Now(), Timeout: 600}))

		header := "theme=dark; " + session.DefaultCookieName + "=" + cookie.Sign(secret, session.DefaultCookieName, id)
		rc, _ := request(header)
		defer rc.Finish()
		s, err := m.Open(rc, session.WithMismatchPolicy(cookie.Exception))
		require.NoError(t, err)
		assert.Equal(t, id, s.ID())
		assert.False(t, s.IsNew())
	})
}

func TestSessionInvalidate(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore(0)
	m := newManager(store)
	rc, w := request("")
	defer rc.Finish()

	s, err := m.Open(rc)
	require.NoError(t, err)
	s.Set("k", "v")
	require.NoError(t, s.Save(context.Background()))
	require.Equal(t, 1, store.Len())

	require.NoError(t, s.Invalidate(context.Background()))
	assert.True(t, s.IsInvalidated())
	assert.Empty(t, s.Keys())
	assert.Zero(t, store.Len())

	cookies := w.Header().Values("Set-Cookie")
	require.Len(t, cookies, 2)
	assert.Contains(t, cookies[1], "Expires=Thu, 01 Jan 1970 00:00:00 GMT")

	s.Set("k", "again")
	require.NoError(t, s.Save(context.Background()))
	assert.Zero(t, store.Len())

	s.Unlock()
	assert.ErrorIs(t, s.Lock(context.Background()), session.ErrInvalidated)
}

func TestSessionLocking(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore(0)
	m := newManager(store)

	rc1, w1 := request("")
	s1, err := m.Open(rc1)
	require.NoError(t, err)
	require.NoError(t, s1.Save(context.Background()))
	pair := setCookie(t, w1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	r.Header.Set("Cookie", pair)
	blocked := session.NewHTTPContext(httptest.NewRecorder(), r)
	_, err = m.Open(blocked)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	opened := make(chan *session.Session, 1)
	go func() {
		rc, _ := request(pair)
		defer rc.Finish()
		s, err := m.Open(rc)
		if assert.NoError(t, err) {
			opened <- s
		}
	}()

	select {
	case <-opened:
		t.Fatal("second open acquired a held session lock")
	case <-time.After(20 * time.Millisecond):
	}

	rc1.Finish()
	select {
	case s2 := <-opened:
		assert.Equal(t, s1.ID(), s2.ID())
	case <-time.After(time.Second):
		t.Fatal("second open never acquired the session lock")
	}

	t.Run("without lock", func(t *testing.T) {
		rc, _ := request(pair)
		defer rc.Finish()
		s, err := m.Open(rc, session.WithoutLock())
		require.NoError(t, err)
		assert.False(t, s.IsLocked())
	})

	t.Run("unlock twice", func(t *testing.T) {
		rc, _ := request("")
		defer rc.Finish()
		s, err := m.Open(rc)
		require.NoError(t, err)
		s.Unlock()
		s.Unlock()
		assert.False(t, s.IsLocked())
		require.NoError(t, s.Lock(context.Background()))
		assert.True(t, s.IsLocked())
	})
}

func TestProbabilisticCleanup(t *testing.T) {
	t.Parallel()

	t.Run("scheduled sweep runs after the request", func(t *testing.T) {
		store := new(MockStore)
		var swept atomic.Bool
		store.On("Cleanup", mock.Anything).Run(func(mock.Arguments) { swept.Store(true) }).Return(2, nil)

		m := newManager(store,
			session.WithCleanupChance(1000),
			session.WithRoll(func(int) int { return 0 }),
		)
		rc, _ := request("")
		_, err := m.Open(rc)
		require.NoError(t, err)
		assert.False(t, swept.Load())

		rc.Finish()
		assert.Eventually(t, swept.Load, time.Second, 5*time.Millisecond)
	})

	t.Run("losing draw schedules nothing", func(t *testing.T) {
		store := new(MockStore)
		m := newManager(store,
			session.WithCleanupChance(1000),
			session.WithRoll(func(int) int { return 1 }),
		)
		rc, _ := request("")
		_, err := m.Open(rc)
		require.NoError(t, err)
		rc.Finish()
		time.Sleep(10 * time.Millisecond)
		store.AssertNotCalled(t, "Cleanup", mock.Anything)
	})

	t.Run("explicit cleanup", func(t *testing.T) {
		store := new(MockStore)
		store.On("Cleanup", mock.Anything).Return(0, errors.New("disk gone"))
		m := newManager(store)
		_, err := m.Cleanup(context.Background())
		assert.ErrorIs(t, err, session.ErrBackendIO)
	})
}

func TestStoreFailures(t *testing.T) {
	t.Parallel()

	t.Run("load failure is treated as absent", func(t *testing.T) {
		store := new(MockStore)
		store.On("Load", mock.Anything, mock.Anything).Return(nil, session.ErrCorruptRecord)
		m := newManager(store)

		id := session.GenerateID("")
		rc, _ := request(session.DefaultCookieName + "=" + id)
		defer rc.Finish()
		s, err := m.Open(rc)
		require.NoError(t, err)
		assert.True(t, s.IsNew())
		assert.NotEqual(t, id, s.ID())
	})

	t.Run("save failure is logged by default", func(t *testing.T) {
		store := new(MockStore)
		store.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
		m := newManager(store)
		rc, _ := request("")
		defer rc.Finish()
		s, err := m.Open(rc)
		require.NoError(t, err)
		assert.NoError(t, s.Save(context.Background()))
		store.AssertExpectations(t)
	})

	t.Run("strict save surfaces the failure", func(t *testing.T) {
		store := new(MockStore)
		store.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
		cfg := session.DefaultConfig()
		cfg.StrictSave = true
		cfg.CleanupChance = 0
		m := session.NewFromConfig(store, cfg, session.WithLogger(logger.NewNop()))
		rc, _ := request("")
		defer rc.Finish()
		s, err := m.Open(rc)
		require.NoError(t, err)
		assert.ErrorIs(t, s.Save(context.Background()), session.ErrBackendIO)
	})

	t.Run("strict option covers invalidate", func(t *testing.T) {
		store := new(MockStore)
		store.On("Delete", mock.Anything, mock.Anything).Return(errors.New("read-only"))
		m := session.New(store,
			session.WithLogger(logger.NewNop()),
			session.WithCleanupChance(0),
			session.WithStrictSave(true))
		rc, _ := request("")
		defer rc.Finish()
		s, err := m.Open(rc)
		require.NoError(t, err)
		assert.ErrorIs(t, s.Invalidate(context.Background()), session.ErrBackendIO)
		assert.True(t, s.IsInvalidated())
	})

	t.Run("sub-second timeout rounds up", func(t *testing.T) {
		store := session.NewMemoryStore(0)
		m := newManager(store)
		rc, _ := request("")
		defer rc.Finish()
		s, err := m.Open(rc, session.WithIdleTimeout(500*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, s.Save(context.Background()))

		rec, err := store.Load(context.Background(), s.ID())
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Timeout)

		s.SetTimeout(1500 * time.Millisecond)
		require.NoError(t, s.Save(context.Background()))
		rec, err = store.Load(context.Background(), s.ID())
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Timeout)
	})

	t.Run("save writes the whole record", func(t *testing.T) {
		store := new(MockStore)
		store.On("Save", mock.Anything, mock.Anything, mock.MatchedBy(func(rec *session.Record) bool {
			return rec.Data["a"] == 1 && rec.Timeout == 1800 && !rec.Created.IsZero() && !rec.Accessed.IsZero()
		})).Return(nil)
		m := newManager(store)
		rc, _ := request("")
		defer rc.Finish()
		s, err := m.Open(rc)
		require.NoError(t, err)
		s.Set("a", 1)
		require.NoError(t, s.Save(context.Background()))
		store.AssertExpectations(t)
	})
}
