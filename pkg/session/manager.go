package session

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dmitrymomot/modserve/pkg/cookie"
	"github.com/dmitrymomot/modserve/pkg/globallock"
	"github.com/dmitrymomot/modserve/pkg/logger"
)

// Manager opens sessions against a Store.
type Manager struct {
	store   Store
	cfg     Config
	locker  globallock.Locker
	logger  *slog.Logger
	metrics *Metrics
	roll    func(n int) int
	now     func() time.Time
}

// New creates a Manager over store.
func New(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		cfg:    DefaultConfig(),
		locker: globallock.NewMemory(),
		logger: slog.Default(),
		roll:   rand.IntN,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.Timeout <= 0 {
		m.cfg.Timeout = DefaultConfig().Timeout
	}
	return m
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// CookieName returns the effective session cookie name.
func (m *Manager) CookieName() string { return m.cfg.cookieName() }

// Open returns the session for the request behind rc, resuming an existing
// one when the cookie (or WithID) names a live record and creating a new one
// otherwise.
func (m *Manager) Open(rc RequestContext, opts ...OpenOption) (*Session, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}

	o := openOptions{
		secret:   m.cfg.Secret,
		timeout:  m.cfg.Timeout,
		lock:     true,
		mismatch: cookie.ParseMismatchPolicy(m.cfg.Mismatch),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := rc.Request().Context()
	s := &Session{
		m:       m,
		rc:      rc,
		secret:  o.secret,
		timeout: o.timeout,
		useLock: o.lock,
		data:    make(map[string]any),
	}

	id := o.id
	if id != "" {
		if !ValidateID(id) {
			return nil, ErrInvalidSessionID
		}
	} else {
		var err error
		if id, err = m.idFromCookie(rc, o); err != nil {
			return nil, err
		}
	}

	resumed := false
	if id != "" {
		s.id = id
		if err := s.lockIfEnabled(ctx); err != nil {
			return nil, err
		}
		if resumed = s.load(ctx); !resumed {
			s.Unlock()
		}
	}

	if !resumed {
		s.id = GenerateID(remoteAddr(rc))
		s.isNew = true
		if err := s.lockIfEnabled(ctx); err != nil {
			return nil, err
		}
		if err := m.setCookie(s); err != nil {
			s.Unlock()
			return nil, err
		}
		s.created = m.now()
		s.timeout = o.timeout
	}
	s.accessed = m.now()

	m.metrics.open(s.isNew)
	if m.cfg.CleanupChance > 0 && m.roll(m.cfg.CleanupChance) == 0 {
		m.scheduleSweep(rc)
	}
	return s, nil
}

// Cleanup runs one synchronous sweep of the store.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, ErrNoStore
	}
	n, err := m.store.Cleanup(ctx)
	m.metrics.sweep(n)
	if err != nil {
		m.metrics.storeError("cleanup")
		return n, errors.Join(ErrBackendIO, err)
	}
	return n, nil
}

func (m *Manager) scheduleSweep(rc RequestContext) {
	rc.RegisterCleanup(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CleanupTimeout)
			defer cancel()
			start := time.Now()
			n, err := m.Cleanup(ctx)
			if err != nil {
				m.logger.WarnContext(ctx, "session sweep failed", logger.Error(err), logger.Count("removed", n))
				return
			}
			m.logger.DebugContext(ctx, "session sweep finished",
				logger.Count("removed", n), logger.Duration(time.Since(start)))
		}()
	})
}

func (m *Manager) idFromCookie(rc RequestContext, o openOptions) (string, error) {
	name := m.cfg.cookieName()
	r := rc.Request()

	var (
		c   *cookie.Cookie
		err error
	)
	if o.secret != "" {
		c, err = cookie.GetSigned(r, name, o.secret, o.mismatch)
	} else {
		c, err = cookie.Get(r, name)
	}
	switch {
	case errors.Is(err, cookie.ErrCookieNotFound):
		return "", nil
	case err != nil:
		return "", err
	}

	if !ValidateID(c.Value) {
		m.logger.DebugContext(r.Context(), "dropping malformed session cookie")
		return "", nil
	}
	return c.Value, nil
}

func (m *Manager) sessionCookie(id string) *cookie.Cookie {
	return &cookie.Cookie{
		Name:     m.cfg.cookieName(),
		Value:    id,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Secure:   m.cfg.Secure,
		HTTPOnly: true,
	}
}

func (m *Manager) setCookie(s *Session) error {
	c := m.sessionCookie(s.id)
	if s.secret != "" {
		return cookie.AddSigned(s.rc.ResponseWriter(), c, s.secret)
	}
	return cookie.Add(s.rc.ResponseWriter(), c)
}

func (m *Manager) expireCookie(s *Session) error {
	return cookie.Add(s.rc.ResponseWriter(), m.sessionCookie(s.id).Expired())
}

func (m *Manager) lockKey(id string) globallock.Key {
	return globallock.Key{Server: m.cfg.ServerID, Token: id}
}
