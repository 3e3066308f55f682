package luamod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/modcache"
)

// Module is one instance of a Lua source file.
type Module struct {
	label  string
	path   string
	loader *Loader
	L      *lua.LState
	sem    chan struct{}
	logger *slog.Logger

	// Globals carried over from the previous instance by AdoptState.
	adopted *lua.LTable
}

var (
	_ modcache.Module     = (*Module)(nil)
	_ modcache.Reloadable = (*Module)(nil)
)

func (m *Module) Label() string { return m.label }
func (m *Module) Path() string  { return m.path }

type heldKey struct{}

// held is the chain of modules locked by the current call path.
type held struct {
	module *Module
	next   *held
}

func (m *Module) acquire(ctx context.Context) (context.Context, func(), error) {
	chain, _ := ctx.Value(heldKey{}).(*held)
	for h := chain; h != nil; h = h.next {
		if h.module == m {
			return ctx, func() {}, nil
		}
	}
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return context.WithValue(ctx, heldKey{}, &held{module: m, next: chain}), func() { <-m.sem }, nil
}

// with runs fn with the module's state locked and bound to ctx.
func (m *Module) with(ctx context.Context, fn func(L *lua.LState) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	prev := m.L.Context()
	m.L.SetContext(ctx)
	defer func() {
		if prev == nil {
			m.L.RemoveContext()
		} else {
			m.L.SetContext(prev)
		}
	}()
	return fn(m.L)
}

// contextOf returns the context bound to L by the innermost with.
func contextOf(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Context returns the context of the call running in L. Methods of
// registered types use it for blocking work.
func Context(L *lua.LState) context.Context { return contextOf(L) }

const registryKey = "modserve.module"

// ModuleOf returns the module that owns L.
func ModuleOf(L *lua.LState) *Module {
	ud, ok := L.G.Registry.RawGetString(registryKey).(*lua.LUserData)
	if !ok {
		return nil
	}
	m, _ := ud.Value.(*Module)
	return m
}

// Push converts v with the rules of ToLua for L's module and pushes it.
func Push(L *lua.LState, v any) {
	if m := ModuleOf(L); m != nil {
		L.Push(m.ToLua(v))
		return
	}
	L.Push(lua.LNil)
}

// Exec runs the module source. Imports made by the source resolve through
// the loader's importer with ctx, so they share the caller's modcache scope.
func (m *Module) Exec(ctx context.Context) error {
	return m.with(ctx, func(L *lua.LState) error {
		if m.adopted != nil {
			m.adopted.ForEach(func(k, v lua.LValue) {
				if name, ok := k.(lua.LString); ok {
					L.SetGlobal(string(name), v)
				}
			})
			m.adopted = nil
		}
		fn, err := L.LoadFile(m.path)
		if err != nil {
			return scriptError(m.path, err)
		}
		L.Push(fn)
		return scriptError(m.path, L.PCall(0, 0, nil))
	})
}

// Close releases the interpreter state. Handlers still holding the module
// must not be called afterwards.
func (m *Module) Close() error {
	select {
	case m.sem <- struct{}{}:
		m.L.Close()
		<-m.sem
	default:
		// In use by a call chain; the state is left to the garbage collector.
	}
	return nil
}

// AdoptState calls __clone() on the previous instance and keeps the
// returned table's fields for Exec.
func (m *Module) AdoptState(ctx context.Context, previous modcache.Module) error {
	prev, ok := previous.(*Module)
	if !ok {
		return nil
	}
	return prev.with(ctx, func(L *lua.LState) error {
		clone := L.GetGlobal("__clone")
		if clone.Type() != lua.LTFunction {
			return nil
		}
		if err := L.CallByParam(lua.P{Fn: clone, NRet: 1, Protect: true}); err != nil {
			return scriptError(prev.path, err)
		}
		ret := L.Get(-1)
		L.Pop(1)
		if ret == lua.LNil {
			return nil
		}
		tbl, ok := ret.(*lua.LTable)
		if !ok {
			return fmt.Errorf("luamod: __clone returned %s, want table", ret.Type())
		}
		m.adopted = newTransfer(prev, m).table(tbl)
		return nil
	})
}

// Discard calls __purge() on the instance, ignoring failures.
func (m *Module) Discard() {
	_ = m.with(context.Background(), func(L *lua.LState) error {
		purge := L.GetGlobal("__purge")
		if purge.Type() != lua.LTFunction {
			return nil
		}
		if err := L.CallByParam(lua.P{Fn: purge, NRet: 0, Protect: true}); err != nil {
			m.logger.Warn("__purge failed", logger.Error(scriptError(m.path, err)))
		}
		return nil
	})
}

// Global returns the Go conversion of a global variable. Dotted names walk
// into tables.
func (m *Module) Global(ctx context.Context, name string) (any, error) {
	var out any
	err := m.with(ctx, func(L *lua.LState) error {
		v, err := m.walk(L, name)
		if err != nil {
			return err
		}
		out = FromLua(v)
		return nil
	})
	return out, err
}

// SetGlobal assigns a Go value to a global variable.
func (m *Module) SetGlobal(ctx context.Context, name string, value any) error {
	return m.with(ctx, func(L *lua.LState) error {
		L.SetGlobal(name, m.ToLua(value))
		return nil
	})
}

// Call calls the global function name with args and returns its results.
func (m *Module) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	var out []any
	err := m.with(ctx, func(L *lua.LState) error {
		fn, err := m.walk(L, name)
		if err != nil {
			return err
		}
		rets, err := m.pcall(L, fn, m.convertArgs(args))
		if err != nil {
			return err
		}
		out = make([]any, len(rets))
		for i, r := range rets {
			out[i] = FromLua(r)
		}
		return nil
	})
	return out, err
}

func (m *Module) walk(L *lua.LState, name string) (lua.LValue, error) {
	parts := strings.Split(name, ".")
	v := L.GetGlobal(parts[0])
	for _, p := range parts[1:] {
		if v == lua.LNil {
			break
		}
		if v.Type() != lua.LTTable && v.Type() != lua.LTUserData {
			return lua.LNil, fmt.Errorf("%w: %s in %s", ErrObjectNotFound, name, m.path)
		}
		v = L.GetField(v, p)
	}
	if v == lua.LNil {
		return lua.LNil, fmt.Errorf("%w: %s in %s", ErrObjectNotFound, name, m.path)
	}
	return v, nil
}

// pcall calls fn in L, which must be locked, and returns all results.
func (m *Module) pcall(L *lua.LState, fn lua.LValue, args []lua.LValue) ([]lua.LValue, error) {
	top := L.GetTop()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, args...); err != nil {
		return nil, scriptError(m.path, err)
	}
	n := L.GetTop() - top
	rets := make([]lua.LValue, n)
	for i := range n {
		rets[i] = L.Get(top + i + 1)
	}
	L.Pop(n)
	return rets, nil
}

func (m *Module) convertArgs(args []any) []lua.LValue {
	out := make([]lua.LValue, len(args))
	for i, a := range args {
		out[i] = m.ToLua(a)
	}
	return out
}

// asModule narrows a cached module to a Lua module.
func asModule(mod modcache.Module) (*Module, error) {
	m, ok := mod.(*Module)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLuaModule, mod.Path())
	}
	return m, nil
}

