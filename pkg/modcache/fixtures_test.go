package modcache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/modcache"
)

// body is the "source" of a fake module, keyed by file base name.
type body func(ctx context.Context, m *fakeModule) error

type fakeLoader struct {
	mu       sync.Mutex
	cache    *modcache.Cache
	bodies   map[string]body
	execs    map[string]int
	adoptErr error
	stateful bool
}

func (l *fakeLoader) NewModule(label, path string) (modcache.Module, error) {
	m := &fakeModule{label: label, path: path, loader: l, state: map[string]int{}}
	if l.stateful {
		return &reloadableModule{fakeModule: m}, nil
	}
	return m, nil
}

func (l *fakeLoader) setBody(name string, b body) {
	l.mu.Lock()
	l.bodies[name] = b
	l.mu.Unlock()
}

func (l *fakeLoader) execCount(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.execs[name]
}

type fakeModule struct {
	label  string
	path   string
	loader *fakeLoader
	state  map[string]int
	closed bool
}

func (m *fakeModule) Label() string { return m.label }
func (m *fakeModule) Path() string  { return m.path }
func (m *fakeModule) Close() error  { m.closed = true; return nil }

func (m *fakeModule) Exec(ctx context.Context) error {
	name := filepath.Base(m.path)
	m.loader.mu.Lock()
	m.loader.execs[name]++
	b := m.loader.bodies[name]
	m.loader.mu.Unlock()
	m.state["runs"]++
	if b == nil {
		return nil
	}
	return b(ctx, m)
}

func (m *fakeModule) importName(ctx context.Context, name string) (modcache.Module, error) {
	return m.loader.cache.Import(ctx, name)
}

type reloadableModule struct {
	*fakeModule
	discarded bool
}

func (r *reloadableModule) AdoptState(_ context.Context, previous modcache.Module) error {
	if r.loader.adoptErr != nil {
		return r.loader.adoptErr
	}
	prev, ok := previous.(*reloadableModule)
	if !ok {
		return errors.New("unexpected previous module")
	}
	for k, v := range prev.state {
		r.state[k] = v
	}
	return nil
}

func (r *reloadableModule) Discard() {
	r.discarded = true
	panic("discard panics are recovered")
}

type fixture struct {
	dir    string
	loader *fakeLoader
	cache  *modcache.Cache
}

func newFixture(t *testing.T, opts ...modcache.Option) *fixture {
	t.Helper()
	l := &fakeLoader{bodies: map[string]body{}, execs: map[string]int{}}
	opts = append([]modcache.Option{modcache.WithLogger(logger.NewNop())}, opts...)
	c := modcache.New(l, opts...)
	l.cache = c
	return &fixture{dir: t.TempDir(), loader: l, cache: c}
}

// file creates an empty source file and returns its path.
func (f *fixture) file(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte("-- "+name+"\n"), 0o640))
	return p
}

var touchClock = time.Now().Add(time.Hour)

// touch moves the file's mtime forward by a whole second each call.
func touch(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	next := info.ModTime().Add(time.Second)
	if next.Before(touchClock) {
		next = touchClock
	}
	require.NoError(t, os.Chtimes(path, next, next))
}

var reload = modcache.ResolveOptions{AutoReload: true}

func (f *fixture) resolve(t *testing.T, path string) modcache.Module {
	t.Helper()
	m, err := f.cache.Resolve(context.Background(), path, reload)
	require.NoError(t, err)
	return m
}

func importer(names ...string) body {
	return func(ctx context.Context, m *fakeModule) error {
		for _, n := range names {
			if _, err := m.importName(ctx, n); err != nil {
				return err
			}
		}
		return nil
	}
}
