// Package app assembles a modserve process from its configuration: the
// module cache and Lua loader, the session manager over the selected
// store, the dispatcher and its router, metrics and health endpoints.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/modserve/pkg/cookie"
	"github.com/dmitrymomot/modserve/pkg/dispatch"
	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/luamod"
	"github.com/dmitrymomot/modserve/pkg/modcache"
	"github.com/dmitrymomot/modserve/pkg/session"
)

// App is a wired server. Handler serves every location plus /metrics and
// /healthz.
type App struct {
	Cache      *modcache.Cache
	Sessions   *session.Manager
	Dispatcher *dispatch.Dispatcher
	Backends   *Backends
	Locations  []dispatch.Location
	Handler    http.Handler

	cfg    Config
	logger *slog.Logger
}

// New loads the locations file and opens every backend cfg selects. The
// caller must Close the returned App.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	locs, err := dispatch.LoadLocations(cfg.Locations)
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, ErrNoLocations
	}
	return NewWithLocations(ctx, cfg, log, locs)
}

// NewWithLocations is New with locations supplied by the caller.
func NewWithLocations(ctx context.Context, cfg Config, log *slog.Logger, locs []dispatch.Location) (*App, error) {
	if log == nil {
		log = logger.NewNop()
	}
	reg := prometheus.NewRegistry()
	if cfg.Metrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	ld := luamod.NewLoaderFromConfig(cfg.Lua, append(dispatch.LuaTypes(), luamod.WithLogger(log))...)
	cache := modcache.NewFromConfig(ld, cfg.Cache, modcache.WithLogger(log))
	ld.SetImporter(cache)

	backends, err := OpenBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	opts := []dispatch.Option{
		dispatch.WithLogger(log),
		dispatch.WithCookies(cookie.NewFromConfig(cfg.Cookie)),
	}
	var sessions *session.Manager
	if backends.Store != nil {
		sessOpts := []session.Option{
			session.WithLogger(log),
			session.WithLocker(backends.Locker),
		}
		if cfg.Metrics {
			sessOpts = append(sessOpts, session.WithMetrics(session.NewMetrics(reg)))
		}
		sessions = session.NewFromConfig(backends.Store, cfg.Session, sessOpts...)
		opts = append(opts, dispatch.WithSessions(sessions))
	}
	if cfg.Metrics {
		reg.MustRegister(modcache.NewCollector(cache))
		opts = append(opts, dispatch.WithMetrics(dispatch.NewMetrics(reg)))
	}
	d := dispatch.NewFromConfig(cache, cfg.Dispatch, opts...)

	router, err := d.Router(locs...)
	if err != nil {
		_ = backends.Close()
		return nil, err
	}
	router.Handle("/healthz", backends.Checks.Handler())
	if cfg.Metrics {
		router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return &App{
		Cache:      cache,
		Sessions:   sessions,
		Dispatcher: d,
		Backends:   backends,
		Locations:  locs,
		Handler:    router,
		cfg:        cfg,
		logger:     log,
	}, nil
}

// WatchDirs returns the configured watch directories followed by the
// directories of every location, without duplicates.
func (a *App) WatchDirs() []string {
	dirs := slices.Clone(a.cfg.Cache.WatchDirs)
	for _, loc := range a.Locations {
		for _, dir := range append([]string{loc.Dir}, loc.SearchPath...) {
			if dir != "" && !slices.Contains(dirs, dir) {
				dirs = append(dirs, dir)
			}
		}
	}
	return dirs
}

// Watch invalidates cached modules as their files change under WatchDirs.
func (a *App) Watch(ctx context.Context) error {
	return a.Cache.Watch(ctx, a.WatchDirs()...)
}

// Sweep removes expired sessions every SweepInterval until ctx is done.
// With no sessions or a zero interval it returns at once.
func (a *App) Sweep(ctx context.Context) error {
	if a.Sessions == nil || a.cfg.SweepInterval <= 0 {
		return nil
	}
	t := time.NewTicker(a.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			start := time.Now()
			n, err := a.Sessions.Cleanup(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WarnContext(ctx, "session sweep failed", logger.Error(err))
				continue
			}
			a.logger.DebugContext(ctx, "session sweep finished",
				logger.Count("removed", n), logger.Duration(time.Since(start)))
		}
	}
}

// Close releases the store and its connections.
func (a *App) Close() error {
	return a.Backends.Close()
}
