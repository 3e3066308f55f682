package luamod_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/luamod"
	"github.com/dmitrymomot/modserve/pkg/modcache"
)

type env struct {
	dir   string
	cache *modcache.Cache
}

func newEnv(t *testing.T, opts ...luamod.Option) *env {
	t.Helper()
	opts = append([]luamod.Option{luamod.WithLogger(logger.NewNop())}, opts...)
	c, _ := luamod.NewCache(opts, modcache.WithLogger(logger.NewNop()))
	return &env{dir: t.TempDir(), cache: c}
}

func (e *env) write(t *testing.T, name, src string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(src), 0o640))
	return p
}

func (e *env) module(t *testing.T, path string) *luamod.Module {
	t.Helper()
	mod, err := e.cache.Resolve(context.Background(), path, modcache.ResolveOptions{AutoReload: true})
	require.NoError(t, err)
	m, ok := mod.(*luamod.Module)
	require.True(t, ok)
	return m
}

func call(t *testing.T, m *luamod.Module, object string, args ...any) any {
	t.Helper()
	h, err := m.Lookup(context.Background(), object)
	require.NoError(t, err)
	out, err := h.Call(context.Background(), args...)
	require.NoError(t, err)
	return out
}

func TestFunctionHandler(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	p := e.write(t, "main.lua", `
function handler(name)
  log("info", "handling " .. name)
  return "hello " .. name
end
function status() return HTTP_NOT_FOUND end
function result() return DECLINED end
`)
	m := e.module(t, p)

	assert.Equal(t, "hello bob", call(t, m, "handler", "bob"))
	assert.Equal(t, float64(404), call(t, m, "status"))
	assert.Equal(t, float64(luamod.DECLINED), call(t, m, "result"))

	h, err := m.Lookup(context.Background(), "handler")
	require.NoError(t, err)
	assert.IsType(t, &luamod.Function{}, h)
	assert.Equal(t, "handler", h.Name())
	assert.Same(t, m, h.Module())
}

func TestHandlerVariants(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	p := e.write(t, "objects.lua", `
greeter = { greeting = "hey" }
function greeter:handler(name)
  return self.greeting .. " " .. name
end

Page = {}
Page.__index = Page
setmetatable(Page, {
  __call = function(cls, name)
    local self = setmetatable({}, cls)
    self.owner = name
    return self
  end,
})
function Page:handler(name)
  return self.owner .. "/" .. name
end

answer = 42
`)
	m := e.module(t, p)

	t.Run("bound method", func(t *testing.T) {
		h, err := m.Lookup(context.Background(), "greeter.handler")
		require.NoError(t, err)
		assert.IsType(t, &luamod.BoundMethod{}, h)
		out, err := h.Call(context.Background(), "ann")
		require.NoError(t, err)
		assert.Equal(t, "hey ann", out)
	})

	t.Run("factory method", func(t *testing.T) {
		h, err := m.Lookup(context.Background(), "Page.handler")
		require.NoError(t, err)
		assert.IsType(t, &luamod.FactoryMethod{}, h)
		out, err := h.Call(context.Background(), "ann")
		require.NoError(t, err)
		assert.Equal(t, "ann/ann", out)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := m.Lookup(context.Background(), "nope")
		assert.ErrorIs(t, err, luamod.ErrObjectNotFound)
		_, err = m.Lookup(context.Background(), "greeter.nope")
		assert.ErrorIs(t, err, luamod.ErrObjectNotFound)
		_, err = m.Lookup(context.Background(), "nope.handler")
		assert.ErrorIs(t, err, luamod.ErrObjectNotFound)
	})

	t.Run("not callable", func(t *testing.T) {
		_, err := m.Lookup(context.Background(), "answer")
		assert.ErrorIs(t, err, luamod.ErrNotCallable)
	})
}

func TestImport(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.write(t, "lib.lua", `
counter = 1
config = { name = "lib", tags = { "a", "b" } }
function greet(n) return "hi " .. n end
function apply(f, x) return f(x) end
`)
	p := e.write(t, "main.lua", `
local lib = import("lib")
function handler() return lib.greet("x") end
function read() return lib.config.tags[2] end
function write() lib.counter = 5 end
function double(x) return x * 2 end
function callback() return lib.apply(double, 21) end
`)
	m := e.module(t, p)

	assert.Equal(t, "hi x", call(t, m, "handler"))
	assert.Equal(t, "b", call(t, m, "read"))
	assert.Equal(t, float64(42), call(t, m, "callback"))

	call(t, m, "write")
	libMod, err := e.cache.Resolve(context.Background(), filepath.Join(e.dir, "lib.lua"), modcache.ResolveOptions{})
	require.NoError(t, err)
	v, err := libMod.(*luamod.Module).Global(context.Background(), "counter")
	require.NoError(t, err)
	assert.Equal(t, float64(5), v)

	st, ok := e.cache.Lookup(p)
	require.True(t, ok)
	assert.Equal(t, []string{modcache.Label(filepath.Join(e.dir, "lib.lua"))}, st.Children)
}

func TestAbort(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.write(t, "guard.lua", `
function deny() abort(HTTP_FORBIDDEN, "no entry") end
`)
	p := e.write(t, "main.lua", `
local guard = import("guard")
function direct() abort(404) end
function nested() guard.deny() end
`)
	m := e.module(t, p)

	for object, want := range map[string]luamod.AbortError{
		"direct": {Status: 404},
		"nested": {Status: 403, Body: "no entry"},
	} {
		h, err := m.Lookup(context.Background(), object)
		require.NoError(t, err)
		_, err = h.Call(context.Background())
		var abort *luamod.AbortError
		require.ErrorAs(t, err, &abort, object)
		assert.Equal(t, want, *abort, object)
	}
}

func TestScriptErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	t.Run("syntax", func(t *testing.T) {
		p := e.write(t, "broken.lua", "function (")
		_, err := e.cache.Resolve(context.Background(), p, modcache.ResolveOptions{AutoReload: true})
		var le *modcache.LoadError
		require.ErrorAs(t, err, &le)
		var se *luamod.ScriptError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, p, se.Path)
	})

	t.Run("runtime", func(t *testing.T) {
		p := e.write(t, "fails.lua", `function handler() error("boom") end`)
		m := e.module(t, p)
		h, err := m.Lookup(context.Background(), "handler")
		require.NoError(t, err)
		_, err = h.Call(context.Background())
		var se *luamod.ScriptError
		require.ErrorAs(t, err, &se)
		assert.Contains(t, se.Message, "boom")
	})

	t.Run("top level", func(t *testing.T) {
		p := e.write(t, "toplevel.lua", `error("at load")`)
		_, err := e.cache.Resolve(context.Background(), p, modcache.ResolveOptions{AutoReload: true})
		var se *luamod.ScriptError
		require.ErrorAs(t, err, &se)
		assert.Contains(t, se.Message, "at load")
		_, ok := e.cache.Lookup(p)
		assert.False(t, ok)
	})

	t.Run("self import", func(t *testing.T) {
		p := e.write(t, "selfish.lua", `local me = import("selfish")`)
		_, err := e.cache.Resolve(context.Background(), p, modcache.ResolveOptions{AutoReload: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "imports itself")
	})
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	p := e.write(t, "spin.lua", `function handler() while true do end end`)
	m := e.module(t, p)

	h, err := m.Lookup(context.Background(), "handler")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.Call(ctx)
	require.Error(t, err)

	// The module is usable again afterwards.
	_, err = m.Global(context.Background(), "handler")
	require.NoError(t, err)
}

func TestStateTransfer(t *testing.T) {
	t.Parallel()

	t.Run("clone", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		src := `
count = count or 0
function __clone() return { count = count } end
function bump() count = count + 1; return count end
`
		p := e.write(t, "counter.lua", src)
		m := e.module(t, p)
		call(t, m, "bump")
		assert.Equal(t, float64(2), call(t, m, "bump"))

		require.True(t, e.cache.Invalidate(p))
		m2 := e.module(t, p)
		assert.NotSame(t, m, m2)
		assert.Equal(t, float64(3), call(t, m2, "bump"))
	})

	t.Run("purge on failed clone", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		p := e.write(t, "stateful.lua", `
count = (count or 0) + 1
function __clone() error("cannot clone") end
function __purge() purged = true end
`)
		m := e.module(t, p)
		require.True(t, e.cache.Invalidate(p))
		m2 := e.module(t, p)

		purged, err := m.Global(context.Background(), "purged")
		require.NoError(t, err)
		assert.Equal(t, true, purged)
		count, err := m2.Global(context.Background(), "count")
		require.NoError(t, err)
		assert.Equal(t, float64(1), count)
	})
}

type point struct{ X, Y int }

func TestRegisteredTypes(t *testing.T) {
	t.Parallel()
	methods := map[string]lua.LGFunction{
		"sum": func(L *lua.LState) int {
			p := luamod.Check[*point](L, 1)
			L.Push(lua.LNumber(p.X + p.Y))
			return 1
		},
	}
	e := newEnv(t,
		luamod.WithType("point", &point{}, methods),
		luamod.WithGlobal("ORIGIN", &point{}),
	)
	e.write(t, "geo.lua", `function total(p) return p:sum() end`)
	p := e.write(t, "main.lua", `
local geo = import("geo")
function handler(p) return geo.total(p) + ORIGIN:sum() end
function passthrough(p) return p end
`)
	m := e.module(t, p)

	pt := &point{X: 2, Y: 3}
	assert.Equal(t, float64(5), call(t, m, "handler", pt))
	assert.Same(t, pt, call(t, m, "passthrough", pt))
}

func TestConversions(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	p := e.write(t, "data.lua", `
list = { "a", "b", "c" }
record = { name = "svc", retries = "3", timeout = "2s", enabled = true }
`)
	m := e.module(t, p)

	list, err := m.Global(context.Background(), "list")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, list)

	rec, err := m.Global(context.Background(), "record")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "svc", "retries": "3", "timeout": "2s", "enabled": true}, rec)

	require.NoError(t, m.SetGlobal(context.Background(), "injected", map[string]any{"k": []any{1, 2}}))
	injected, err := m.Global(context.Background(), "injected")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": []any{float64(1), float64(2)}}, injected)

	out, err := m.Call(context.Background(), "table.concat", []string{"x", "y"}, "-")
	require.NoError(t, err)
	assert.Equal(t, []any{"x-y"}, out)

	var opts struct {
		Name    string        `mapstructure:"name"`
		Retries int           `mapstructure:"retries"`
		Timeout time.Duration `mapstructure:"timeout"`
		Enabled bool          `mapstructure:"enabled"`
	}
	tbl := lua.NewState()
	defer tbl.Close()
	require.NoError(t, tbl.DoString(`record = { name = "svc", retries = "3", timeout = "2s", enabled = true }`))
	require.NoError(t, luamod.Decode(tbl.GetGlobal("record"), &opts))
	assert.Equal(t, "svc", opts.Name)
	assert.Equal(t, 3, opts.Retries)
	assert.Equal(t, 2*time.Second, opts.Timeout)
	assert.True(t, opts.Enabled)
}

func TestNoImporter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "main.lua")
	require.NoError(t, os.WriteFile(p, []byte(`local x = import("other")`), 0o640))

	c := modcache.New(luamod.NewLoader(luamod.WithLogger(logger.NewNop())), modcache.WithLogger(logger.NewNop()))
	_, err := c.Resolve(context.Background(), p, modcache.ResolveOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
