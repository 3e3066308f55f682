package modcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/modserve/pkg/logger"
)

// ResolveOptions control a single resolution. The options of the first
// Resolve on a scope also apply to the imports made within it.
type ResolveOptions struct {
	// AutoReload enables the freshness checks; when false a cached module is
	// served as is.
	AutoReload bool
	// Log reports loads and reloads at info level.
	Log bool
	// SearchPath lists directories consulted by Import after the importing
	// module's own directory.
	SearchPath []string
}

// Cache is the process-wide table of loaded modules.
type Cache struct {
	loader Loader
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	// lockMu guards entry ownership and the scopes blocked on an entry.
	lockMu  sync.Mutex
	waiting map[*Scope]*entry

	generation atomic.Uint64
	frozen     atomic.Bool
	loads      atomic.Uint64
	failures   atomic.Uint64

	names    *nameCache
	defaults ResolveOptions
}

type Option func(*Cache)

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithNameCacheSize sets how many import-name resolutions are remembered.
func WithNameCacheSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.names = newNameCache(n)
		}
	}
}

// WithDefaults sets the options Import uses when no Resolve on the context
// supplied any.
func WithDefaults(opts ResolveOptions) Option {
	return func(c *Cache) { c.defaults = opts }
}

func New(loader Loader, opts ...Option) *Cache {
	c := &Cache{
		loader:  loader,
		logger:  slog.Default(),
		now:     time.Now,
		entries: make(map[string]*entry),
		waiting: make(map[*Scope]*entry),
		names:   newNameCache(512),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a cache from cfg.
func NewFromConfig(loader Loader, cfg Config, opts ...Option) *Cache {
	base := []Option{
		WithNameCacheSize(cfg.NameCacheSize),
		WithDefaults(ResolveOptions{
			AutoReload: cfg.AutoReload,
			Log:        cfg.ImportLog,
			SearchPath: cfg.SearchPath,
		}),
	}
	c := New(loader, append(base, opts...)...)
	c.Freeze(cfg.Freeze)
	return c
}

// Freeze disables or re-enables reload decisions for every entry.
func (c *Cache) Freeze(frozen bool) { c.frozen.Store(frozen) }

func (c *Cache) Frozen() bool { return c.frozen.Load() }

// Generation returns the last generation handed out.
func (c *Cache) Generation() uint64 { return c.generation.Load() }

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Invalidate marks the entry for path dirty so its next resolution reloads
// it. It reports whether an entry existed.
func (c *Cache) Invalidate(path string) bool {
	c.names.clear()
	e := c.get(Label(path))
	if e == nil {
		return false
	}
	e.markDirty()
	return true
}

// Stats returns a view of every entry.
func (c *Cache) Stats() []EntryStats {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	out := make([]EntryStats, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.stats())
	}
	return out
}

// Lookup returns the stats of the entry for path.
func (c *Cache) Lookup(path string) (EntryStats, bool) {
	e := c.get(Label(path))
	if e == nil {
		return EntryStats{}, false
	}
	return e.stats(), true
}

func (c *Cache) get(label string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[label]
}

func (c *Cache) getOrCreate(label, path string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[label]; ok {
		return e, false
	}
	e := newEntry(label, path)
	c.entries[label] = e
	return e, true
}

// current reports whether e is still the table's entry for its label.
func (c *Cache) current(e *entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[e.label] == e
}

func (c *Cache) remove(e *entry) {
	c.mu.Lock()
	if c.entries[e.label] == e {
		delete(c.entries, e.label)
	}
	c.mu.Unlock()
}

// Resolve returns the module for the source file at path, loading or
// reloading it as needed. A returned module stays usable after a later
// reload replaces it in the cache.
func (c *Cache) Resolve(ctx context.Context, path string, opts ResolveOptions) (Module, error) {
	if c.loader == nil {
		return nil, ErrNoLoader
	}
	scope := ScopeFrom(ctx)
	if scope == nil {
		scope = NewScope()
		ctx = WithScope(ctx, scope)
	}
	scope.setOptions(opts)
	return c.resolve(ctx, scope, normalize(path), opts)
}

func (c *Cache) resolve(ctx context.Context, scope *Scope, path string, opts ResolveOptions) (Module, error) {
	label := labelFor(path)
	parent, _ := scope.executing()
	direct := parent == ""

	if sm, ok := scope.lookup(label); ok {
		if sm.inProgress {
			if parent == label {
				return nil, &LoadError{Label: label, Path: path, Err: ErrSelfImport}
			}
			scope.recordChild(label)
		}
		if e := c.get(label); e != nil {
			e.touch(c.now(), direct)
		}
		return sm.module, nil
	}

	for {
		e, created := c.getOrCreate(label, path)
		if err := c.acquire(ctx, scope, e); err != nil {
			return nil, err
		}
		if !c.current(e) {
			// A failed first load dropped this entry while we waited.
			c.release(e)
			continue
		}
		mod, err := c.resolveLocked(ctx, scope, e, created, opts)
		c.release(e)
		if err != nil {
			return nil, err
		}
		scope.recordChild(label)
		e.touch(c.now(), direct)
		return mod, nil
	}
}

// acquire takes e for scope. It fails with ErrImportDeadlock instead of
// blocking when the holder of e is, directly or through other scopes, waiting
// on an entry scope holds.
func (c *Cache) acquire(ctx context.Context, scope *Scope, e *entry) error {
	for {
		c.lockMu.Lock()
		if e.owner == nil {
			e.owner = scope
			e.released = make(chan struct{})
			delete(c.waiting, scope)
			c.lockMu.Unlock()
			return nil
		}
		if c.waitsOn(e.owner, scope) {
			delete(c.waiting, scope)
			c.lockMu.Unlock()
			return &LoadError{Label: e.label, Path: e.path, Err: ErrImportDeadlock}
		}
		c.waiting[scope] = e
		released := e.released
		c.lockMu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			c.lockMu.Lock()
			delete(c.waiting, scope)
			c.lockMu.Unlock()
			return ctx.Err()
		}
	}
}

// waitsOn follows the wait-for chain from holder and reports whether it
// reaches scope. It runs with lockMu held.
func (c *Cache) waitsOn(holder, scope *Scope) bool {
	seen := make(map[*Scope]bool)
	for h := holder; h != nil && !seen[h]; {
		if h == scope {
			return true
		}
		seen[h] = true
		e, ok := c.waiting[h]
		if !ok {
			return false
		}
		h = e.owner
	}
	return false
}

func (c *Cache) release(e *entry) {
	c.lockMu.Lock()
	e.owner = nil
	close(e.released)
	c.lockMu.Unlock()
}

// resolveLocked runs with e held.
func (c *Cache) resolveLocked(ctx context.Context, scope *Scope, e *entry, created bool, opts ResolveOptions) (Module, error) {
	snap := e.snapshot()
	if created || snap.module == nil {
		return c.load(ctx, scope, e, nil, opts)
	}

	reason, visited := c.staleReason(e, snap, opts)
	if reason != "" {
		if opts.Log {
			c.logger.InfoContext(ctx, "reloading module",
				logger.Module(e.label, e.path), logger.Reason(reason))
		}
		return c.load(ctx, scope, e, snap.module, opts)
	}

	scope.put(e.label, snap.module)
	for label, m := range visited {
		if _, ok := scope.Module(label); !ok {
			scope.put(label, m)
		}
	}
	return snap.module, nil
}

// staleReason returns why the loaded module must be reloaded, or "" with
// the fresh transitive closure of its children.
func (c *Cache) staleReason(e *entry, snap snapshot, opts ResolveOptions) (string, map[string]Module) {
	if c.frozen.Load() || !opts.AutoReload {
		return "", nil
	}
	if snap.mtime == 0 {
		return "dirty", nil
	}
	info, err := os.Stat(e.path)
	if err != nil {
		return "", nil
	}
	if info.ModTime().UnixNano() != snap.mtime {
		return "modified", nil
	}

	visited := make(map[string]Module)
	ancestors := map[string]bool{e.label: true}
	if reason := c.walkChildren(snap, ancestors, visited); reason != "" {
		return reason, nil
	}
	return "", visited
}

func (c *Cache) walkChildren(parent snapshot, ancestors map[string]bool, visited map[string]Module) string {
	for _, label := range parent.children {
		if ancestors[label] {
			return "dependency cycle"
		}
		if _, ok := visited[label]; ok {
			continue
		}
		child := c.get(label)
		if child == nil {
			return "dependency missing"
		}
		cs := child.snapshot()
		if cs.mtime == 0 || cs.module == nil {
			return "dependency dirty"
		}
		if info, err := os.Stat(child.path); err == nil && info.ModTime().UnixNano() > cs.mtime {
			return "dependency modified"
		}
		if cs.generation > parent.generation {
			return "dependency reloaded"
		}
		visited[label] = cs.module

		ancestors[label] = true
		reason := c.walkChildren(cs, ancestors, visited)
		delete(ancestors, label)
		if reason != "" {
			return reason
		}
	}
	return ""
}

// load executes a new instance of e's source. It runs with e held.
func (c *Cache) load(ctx context.Context, scope *Scope, e *entry, prev Module, opts ResolveOptions) (Module, error) {
	start := c.now()
	info, err := os.Stat(e.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = errors.Join(ErrModuleNotFound, err)
		}
		return nil, c.fail(ctx, e, prev, err)
	}
	mtime := info.ModTime().UnixNano()

	mod, err := c.newModule(ctx, e, prev)
	if err != nil {
		return nil, c.fail(ctx, e, prev, err)
	}

	scope.begin(e.label, e.path, mod)
	err = mod.Exec(logger.WithContextAttrs(ctx, logger.Module(e.label, e.path)))
	children := scope.end(e.label, mod, err == nil)
	if err != nil {
		_ = mod.Close()
		return nil, c.fail(ctx, e, prev, err)
	}

	gen := c.generation.Add(1)
	c.loads.Add(1)
	e.stateMu.Lock()
	e.module = mod
	e.mtime = mtime
	e.generation = gen
	e.children = children
	e.instances++
	e.stateMu.Unlock()

	if opts.Log {
		c.logger.InfoContext(ctx, "module loaded",
			logger.Module(e.label, e.path),
			logger.Generation(gen),
			logger.Count("children", len(children)),
			logger.Duration(c.now().Sub(start)))
	}
	return mod, nil
}

func (c *Cache) newModule(ctx context.Context, e *entry, prev Module) (Module, error) {
	mod, err := c.loader.NewModule(e.label, e.path)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return mod, nil
	}
	r, ok := mod.(Reloadable)
	if !ok {
		return mod, nil
	}
	err = r.AdoptState(ctx, prev)
	if err == nil {
		return mod, nil
	}
	c.logger.WarnContext(ctx, "module state transfer failed, starting fresh",
		logger.Module(e.label, e.path), logger.Error(err))
	_ = mod.Close()
	discard(prev)
	return c.loader.NewModule(e.label, e.path)
}

func discard(m Module) {
	r, ok := m.(Reloadable)
	if !ok {
		return
	}
	defer func() { _ = recover() }()
	r.Discard()
}

// fail records a failed load. A first load drops the entry; a reload marks
// it dirty and keeps the previous module.
func (c *Cache) fail(ctx context.Context, e *entry, prev Module, cause error) error {
	c.failures.Add(1)
	e.stateMu.Lock()
	e.failures++
	e.stateMu.Unlock()

	if prev == nil {
		c.remove(e)
	} else {
		e.markDirty()
	}
	c.logger.ErrorContext(ctx, "module load failed",
		logger.Module(e.label, e.path), logger.Error(cause))
	return &LoadError{Label: e.label, Path: e.path, Reload: prev != nil, Err: cause}
}

// Import resolves an import name on behalf of the module currently
// executing in ctx's scope. See ResolveName for the lookup rules.
func (c *Cache) Import(ctx context.Context, name string) (Module, error) {
	scope := ScopeFrom(ctx)
	if scope == nil {
		scope = NewScope()
		ctx = WithScope(ctx, scope)
	}
	opts := scope.options(c.defaults)
	_, importer := scope.executing()

	path, err := c.ResolveName(name, importer, opts.SearchPath)
	if err != nil {
		return nil, err
	}
	return c.resolve(ctx, scope, path, opts)
}

func (c *Cache) String() string {
	return fmt.Sprintf("modcache(%d entries, generation %d)", c.Len(), c.Generation())
}
