package session

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/modserve/pkg/cookie"
	"github.com/dmitrymomot/modserve/pkg/globallock"
)

// Option configures a Manager.
type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithLocker replaces the in-process session locker, e.g. with a file or
// redis locker shared by several processes.
func WithLocker(l globallock.Locker) Option {
	return func(m *Manager) {
		if l != nil {
			m.locker = l
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithCookieName(name string) Option {
	return func(m *Manager) { m.cfg.CookieName = name }
}

func WithSecret(secret string) Option {
	return func(m *Manager) { m.cfg.Secret = secret }
}

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.cfg.Timeout = d }
}

// WithServerID scopes session locks to one virtual server.
func WithServerID(id string) Option {
	return func(m *Manager) { m.cfg.ServerID = id }
}

// WithStrictSave makes Save and Invalidate return store failures wrapped in
// ErrBackendIO instead of logging them.
func WithStrictSave(strict bool) Option {
	return func(m *Manager) { m.cfg.StrictSave = strict }
}

// WithCleanupChance sets N in the 1-in-N sweep chance; 0 disables it.
func WithCleanupChance(n int) Option {
	return func(m *Manager) { m.cfg.CleanupChance = n }
}

// WithRoll overrides the random source used for the cleanup draw. roll(n)
// must return a value in [0, n).
func WithRoll(roll func(n int) int) Option {
	return func(m *Manager) {
		if roll != nil {
			m.roll = roll
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// OpenOption adjusts a single Open call.
type OpenOption func(*openOptions)

type openOptions struct {
	id       string
	secret   string
	timeout  time.Duration
	lock     bool
	mismatch cookie.MismatchPolicy
}

// WithID opens the session with an explicit id instead of the cookie.
func WithID(id string) OpenOption {
	return func(o *openOptions) { o.id = id }
}

// WithSigningSecret signs the session cookie with secret.
func WithSigningSecret(secret string) OpenOption {
	return func(o *openOptions) { o.secret = secret }
}

// WithIdleTimeout sets the idle timeout given to a newly created session.
func WithIdleTimeout(d time.Duration) OpenOption {
	return func(o *openOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithoutLock opens the session without taking the per-id lock.
func WithoutLock() OpenOption {
	return func(o *openOptions) { o.lock = false }
}

// WithMismatchPolicy decides what happens to a badly signed cookie.
func WithMismatchPolicy(p cookie.MismatchPolicy) OpenOption {
	return func(o *openOptions) { o.mismatch = p }
}
