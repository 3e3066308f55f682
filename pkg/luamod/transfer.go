package luamod

import (
	lua "github.com/yuin/gopher-lua"
)

// transfer copies values owned by one module into another module's state.
// Both states must be held by the caller.
type transfer struct {
	from, to *Module
	seen     map[*lua.LTable]*lua.LTable
}

func newTransfer(from, to *Module) *transfer {
	return &transfer{from: from, to: to, seen: make(map[*lua.LTable]*lua.LTable)}
}

func (t *transfer) value(v lua.LValue) lua.LValue {
	switch v := v.(type) {
	case lua.LBool, lua.LNumber, lua.LString:
		return v
	case *lua.LNilType:
		return lua.LNil
	case *lua.LTable:
		return t.table(v)
	case *lua.LFunction:
		if t.from == t.to {
			return v
		}
		return t.from.trampoline(t.to, v)
	case *lua.LUserData:
		return t.userdata(v)
	default:
		return lua.LNil
	}
}

func (t *transfer) table(src *lua.LTable) *lua.LTable {
	if dst, ok := t.seen[src]; ok {
		return dst
	}
	if target := t.from.proxyTarget(src); target != nil {
		dst := target.proxy(t.to)
		t.seen[src] = dst
		return dst
	}
	dst := t.to.L.NewTable()
	t.seen[src] = dst
	src.ForEach(func(k, v lua.LValue) {
		key := t.value(k)
		if key == lua.LNil {
			return
		}
		dst.RawSet(key, t.value(v))
	})
	return dst
}

func (t *transfer) userdata(src *lua.LUserData) lua.LValue {
	if _, ok := src.Value.(*proxyRef); ok {
		return lua.LNil
	}
	ud := t.to.L.NewUserData()
	ud.Value = src.Value
	if name, ok := t.from.L.GetMetaField(src, "__name").(lua.LString); ok {
		if mt := t.to.L.GetTypeMetatable(string(name)); mt != lua.LNil {
			t.to.L.SetMetatable(ud, mt)
		}
	}
	return ud
}

// trampoline wraps fn, defined in m, as a function of caller's state. The
// call runs in m under m's lock.
func (m *Module) trampoline(caller *Module, fn *lua.LFunction) *lua.LFunction {
	return caller.L.NewFunction(func(L *lua.LState) int {
		nargs := L.GetTop()
		var results []lua.LValue
		err := m.with(contextOf(L), func(own *lua.LState) error {
			in := newTransfer(caller, m)
			args := make([]lua.LValue, nargs)
			for i := range nargs {
				args[i] = in.value(L.Get(i + 1))
			}
			rets, err := m.pcall(own, fn, args)
			if err != nil {
				return err
			}
			out := newTransfer(m, caller)
			results = make([]lua.LValue, len(rets))
			for i, r := range rets {
				results[i] = out.value(r)
			}
			return nil
		})
		if err != nil {
			raise(L, err)
			return 0
		}
		for _, r := range results {
			L.Push(r)
		}
		return len(results)
	})
}
