package session

import "time"

// DefaultCookieName is used when no cookie name is configured. Clients that
// predate configurable names still send it.
const DefaultCookieName = "pysid"

// Config holds session manager configuration.
type Config struct {
	// CookieName is the session cookie name; empty means DefaultCookieName.
	CookieName   string        `env:"SESSION_COOKIE_NAME" envDefault:""`
	CookiePath   string        `env:"SESSION_COOKIE_PATH" envDefault:"/"`
	CookieDomain string        `env:"SESSION_COOKIE_DOMAIN" envDefault:""`
	Secure       bool          `env:"SESSION_SECURE_COOKIES" envDefault:"false"`
	Secret       string        `env:"SESSION_SECRET" envDefault:""`
	Mismatch     string        `env:"SESSION_SIGNATURE_MISMATCH" envDefault:"ignore"`
	Timeout      time.Duration `env:"SESSION_TIMEOUT" envDefault:"30m"`
	ServerID     string        `env:"SESSION_SERVER_ID" envDefault:""`

	// LockTimeout bounds how long Open waits for the session lock; 0 waits
	// until the request context is done.
	LockTimeout time.Duration `env:"SESSION_LOCK_TIMEOUT" envDefault:"0s"`

	// CleanupChance is N in the 1-in-N chance that an Open schedules a sweep.
	// 0 disables probabilistic cleanup.
	CleanupChance  int           `env:"SESSION_CLEANUP_CHANCE" envDefault:"1000"`
	CleanupTimeout time.Duration `env:"SESSION_CLEANUP_TIMEOUT" envDefault:"2m"`

	// StrictSave surfaces store write failures from Save and Invalidate
	// instead of logging them.
	StrictSave bool `env:"SESSION_STRICT_SAVE" envDefault:"false"`
}

// DefaultConfig returns default session configuration.
func DefaultConfig() Config {
	return Config{
		CookiePath:     "/",
		Mismatch:       "ignore",
		Timeout:        30 * time.Minute,
		CleanupChance:  1000,
		CleanupTimeout: 2 * time.Minute,
	}
}

func (c Config) cookieName() string {
	if c.CookieName == "" {
		return DefaultCookieName
	}
	return c.CookieName
}

// NewFromConfig creates a Manager over store from cfg.
func NewFromConfig(store Store, cfg Config, opts ...Option) *Manager {
	return New(store, append([]Option{WithConfig(cfg)}, opts...)...)
}
