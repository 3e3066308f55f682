package luamod

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Handler is a callable resolved from a module.
type Handler interface {
	// Name is the object path the handler was resolved from.
	Name() string
	Module() *Module
	// Call invokes the handler and returns the Go form of its first result.
	Call(ctx context.Context, args ...any) (any, error)
}

// Function is a plain function: `mod::handler`.
type Function struct {
	module *Module
	name   string
	fn     *lua.LFunction
}

// BoundMethod is a function stored in a plain table, called with the table
// as self: `mod::obj.handler` invokes obj:handler(...).
type BoundMethod struct {
	module *Module
	name   string
	self   lua.LValue
	fn     *lua.LFunction
}

// FactoryMethod is a method of a callable class table: `mod::Class.handler`
// where Class has a __call metamethod. Each call constructs an instance with
// Class(...) and then invokes instance:handler(...).
type FactoryMethod struct {
	module *Module
	name   string
	class  lua.LValue
	method string
}

var (
	_ Handler = (*Function)(nil)
	_ Handler = (*BoundMethod)(nil)
	_ Handler = (*FactoryMethod)(nil)
)

// Lookup resolves object to a handler. A bare name must be a global
// function. A dotted name selects a field of a table: a class table (one
// with a __call metamethod) yields a FactoryMethod, any other table a
// BoundMethod.
func (m *Module) Lookup(ctx context.Context, object string) (Handler, error) {
	var h Handler
	err := m.with(ctx, func(L *lua.LState) error {
		i := strings.LastIndexByte(object, '.')
		if i < 0 {
			fn, ok := L.GetGlobal(object).(*lua.LFunction)
			if !ok {
				return m.lookupError(L, object, L.GetGlobal(object))
			}
			h = &Function{module: m, name: object, fn: fn}
			return nil
		}

		parent, err := m.walk(L, object[:i])
		if err != nil {
			return err
		}
		method := object[i+1:]
		if parent.Type() == lua.LTTable && L.GetMetaField(parent, "__call") != lua.LNil {
			if L.GetField(parent, method) == lua.LNil {
				return fmt.Errorf("%w: %s in %s", ErrObjectNotFound, object, m.path)
			}
			h = &FactoryMethod{module: m, name: object, class: parent, method: method}
			return nil
		}
		v := L.GetField(parent, method)
		fn, ok := v.(*lua.LFunction)
		if !ok {
			return m.lookupError(L, object, v)
		}
		h = &BoundMethod{module: m, name: object, self: parent, fn: fn}
		return nil
	})
	return h, err
}

func (m *Module) lookupError(L *lua.LState, object string, v lua.LValue) error {
	if v == lua.LNil {
		return fmt.Errorf("%w: %s in %s", ErrObjectNotFound, object, m.path)
	}
	return fmt.Errorf("%w: %s is a %s", ErrNotCallable, object, v.Type())
}

func (f *Function) Name() string    { return f.name }
func (f *Function) Module() *Module { return f.module }

func (f *Function) Call(ctx context.Context, args ...any) (any, error) {
	return f.module.invoke(ctx, func(L *lua.LState, in []lua.LValue) ([]lua.LValue, error) {
		return f.module.pcall(L, f.fn, in)
	}, args)
}

func (b *BoundMethod) Name() string    { return b.name }
func (b *BoundMethod) Module() *Module { return b.module }

func (b *BoundMethod) Call(ctx context.Context, args ...any) (any, error) {
	return b.module.invoke(ctx, func(L *lua.LState, in []lua.LValue) ([]lua.LValue, error) {
		return b.module.pcall(L, b.fn, append([]lua.LValue{b.self}, in...))
	}, args)
}

func (f *FactoryMethod) Name() string    { return f.name }
func (f *FactoryMethod) Module() *Module { return f.module }

func (f *FactoryMethod) Call(ctx context.Context, args ...any) (any, error) {
	return f.module.invoke(ctx, func(L *lua.LState, in []lua.LValue) ([]lua.LValue, error) {
		ctor := L.GetMetaField(f.class, "__call")
		inst, err := f.module.pcall(L, ctor, append([]lua.LValue{f.class}, in...))
		if err != nil {
			return nil, err
		}
		if len(inst) == 0 || inst[0] == lua.LNil {
			return nil, fmt.Errorf("%w: %s constructor returned nil", ErrNotCallable, f.name)
		}
		fn := L.GetField(inst[0], f.method)
		if fn.Type() != lua.LTFunction {
			return nil, fmt.Errorf("%w: %s", ErrNotCallable, f.name)
		}
		return f.module.pcall(L, fn, append([]lua.LValue{inst[0]}, in...))
	}, args)
}

func (m *Module) invoke(ctx context.Context, call func(*lua.LState, []lua.LValue) ([]lua.LValue, error), args []any) (any, error) {
	var out any
	err := m.with(ctx, func(L *lua.LState) error {
		rets, err := call(L, m.convertArgs(args))
		if err != nil {
			return err
		}
		if len(rets) > 0 {
			out = FromLua(rets[0])
		}
		return nil
	})
	return out, err
}
