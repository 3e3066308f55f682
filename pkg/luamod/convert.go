package luamod

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
	lua "github.com/yuin/gopher-lua"
)

// ToLua converts a Go value for use in m's state. Registered types become
// typed userdata; unknown types become plain userdata.
func (m *Module) ToLua(v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint:
		return lua.LNumber(v)
	case uint32:
		return lua.LNumber(v)
	case uint64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case time.Time:
		return lua.LNumber(v.Unix())
	case time.Duration:
		return lua.LNumber(v.Seconds())
	case []string:
		tbl := m.L.NewTable()
		for _, s := range v {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []any:
		tbl := m.L.NewTable()
		for _, e := range v {
			tbl.Append(m.ToLua(e))
		}
		return tbl
	case map[string]string:
		tbl := m.L.NewTable()
		for k, e := range v {
			tbl.RawSetString(k, lua.LString(e))
		}
		return tbl
	case map[string]any:
		tbl := m.L.NewTable()
		for k, e := range v {
			tbl.RawSetString(k, m.ToLua(e))
		}
		return tbl
	}

	ud := m.L.NewUserData()
	ud.Value = v
	if name, ok := m.loader.typeName(v); ok {
		m.L.SetMetatable(ud, m.L.GetTypeMetatable(name))
	}
	return ud
}

// FromLua converts a Lua value to Go. Tables with keys 1..n become []any,
// other tables map[string]any; numbers are float64; userdata yields its Go
// value; functions and threads yield nil.
func FromLua(v lua.LValue) any {
	return fromLua(v, make(map[*lua.LTable]bool))
}

func fromLua(v lua.LValue, seen map[*lua.LTable]bool) any {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LUserData:
		return v.Value
	case *lua.LTable:
		if seen[v] {
			return nil
		}
		seen[v] = true
		defer delete(seen, v)
		if n := v.Len(); n > 0 && countKeys(v) == n {
			out := make([]any, n)
			for i := 1; i <= n; i++ {
				out[i-1] = fromLua(v.RawGetInt(i), seen)
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, e lua.LValue) {
			out[keyString(k)] = fromLua(e, seen)
		})
		return out
	default:
		return nil
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

func keyString(k lua.LValue) string {
	if n, ok := k.(lua.LNumber); ok && float64(n) == math.Trunc(float64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return k.String()
}

// Decode fills out from a Lua table using mapstructure. Field names match
// `mapstructure` tags; strings and numbers convert weakly.
func Decode(v lua.LValue, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(FromLua(v))
}

// Check returns argument n as a T held in typed userdata, raising a Lua
// argument error otherwise.
func Check[T any](L *lua.LState, n int) T {
	ud := L.CheckUserData(n)
	v, ok := ud.Value.(T)
	if !ok {
		var zero T
		L.ArgError(n, fmt.Sprintf("%T expected", zero))
		return zero
	}
	return v
}

// Keys returns the string keys of a table in sorted order.
func Keys(t *lua.LTable) []string {
	var keys []string
	t.ForEach(func(k, _ lua.LValue) {
		if s, ok := k.(lua.LString); ok {
			keys = append(keys, string(s))
		}
	})
	sort.Strings(keys)
	return keys
}
