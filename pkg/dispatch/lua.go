package dispatch

import (
	"errors"
	"net/http"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dmitrymomot/modserve/pkg/cookie"
	"github.com/dmitrymomot/modserve/pkg/luamod"
	"github.com/dmitrymomot/modserve/pkg/session"
)

// LuaTypes returns the loader options that expose *Request as "request"
// and *session.Session as "session" to handler modules.
func LuaTypes() []luamod.Option {
	return []luamod.Option{
		luamod.WithType("request", (*Request)(nil), requestMethods),
		luamod.WithType("session", (*session.Session)(nil), sessionMethods),
	}
}

var requestMethods = map[string]lua.LGFunction{
	"write":        reqWrite,
	"status":       reqStatus,
	"header":       reqHeader,
	"set_header":   reqSetHeader,
	"content_type": reqContentType,
	"method":       reqMethod,
	"path":         reqPath,
	"query":        reqQuery,
	"option":       reqOption,
	"cookie":       reqCookie,
	"set_cookie":   reqSetCookie,
	"session":      reqSession,
	"remote_addr":  reqRemoteAddr,
	"id":           reqID,
}

// req:write(...) writes every argument to the response body.
func reqWrite(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	for i := 2; i <= L.GetTop(); i++ {
		if _, err := req.Write([]byte(L.CheckString(i))); err != nil {
			L.RaiseError("write: %s", err.Error())
			return 0
		}
	}
	return 0
}

// req:status() returns the status; req:status(code) sets it.
func reqStatus(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	if L.GetTop() >= 2 {
		req.SetStatus(L.CheckInt(2))
		return 0
	}
	L.Push(lua.LNumber(req.Status()))
	return 1
}

func reqHeader(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	v := req.r.Header.Values(L.CheckString(2))
	if len(v) == 0 {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v[0]))
	return 1
}

// req:set_header(name, value) sets a response header; a nil value
// removes it.
func reqSetHeader(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	name := L.CheckString(2)
	if L.Get(3) == lua.LNil {
		req.w.Header().Del(name)
		return 0
	}
	req.w.Header().Set(name, L.CheckString(3))
	return 0
}

func reqContentType(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	if L.GetTop() >= 2 {
		req.w.Header().Set("Content-Type", L.CheckString(2))
		return 0
	}
	L.Push(lua.LString(req.w.Header().Get("Content-Type")))
	return 1
}

func reqMethod(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	L.Push(lua.LString(req.r.Method))
	return 1
}

func reqPath(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	L.Push(lua.LString(req.r.URL.Path))
	return 1
}

// req:query(name) returns the first value of a query parameter;
// req:query() returns all of them as a table.
func reqQuery(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	q := req.r.URL.Query()
	if L.GetTop() < 2 {
		all := make(map[string]string, len(q))
		for k := range q {
			all[k] = q.Get(k)
		}
		luamod.Push(L, all)
		return 1
	}
	if !q.Has(L.CheckString(2)) {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(q.Get(L.CheckString(2))))
	return 1
}

func reqOption(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	v, ok := req.Option(L.CheckString(2))
	if !ok {
		L.Push(L.Get(3))
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

func reqCookie(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	c, err := req.Cookie(L.CheckString(2))
	if errors.Is(err, cookie.ErrCookieNotFound) {
		L.Push(lua.LNil)
		return 1
	}
	if err != nil {
		L.RaiseError("cookie: %s", err.Error())
		return 0
	}
	L.Push(lua.LString(c.Value))
	return 1
}

// cookieOptions leaves unset fields nil so the dispatcher defaults apply.
type cookieOptions struct {
	Path     *string `mapstructure:"path"`
	Domain   *string `mapstructure:"domain"`
	MaxAge   *int    `mapstructure:"max_age"`
	Secure   *bool   `mapstructure:"secure"`
	HTTPOnly *bool   `mapstructure:"http_only"`
	SameSite *string `mapstructure:"same_site"`
	Signed   bool    `mapstructure:"signed"`
}

func (o cookieOptions) options() []cookie.Option {
	var opts []cookie.Option
	if o.Path != nil {
		opts = append(opts, cookie.WithPath(*o.Path))
	}
	if o.Domain != nil {
		opts = append(opts, cookie.WithDomain(*o.Domain))
	}
	if o.MaxAge != nil {
		opts = append(opts, cookie.WithMaxAge(*o.MaxAge))
	}
	if o.Secure != nil {
		opts = append(opts, cookie.WithSecure(*o.Secure))
	}
	if o.HTTPOnly != nil {
		opts = append(opts, cookie.WithHTTPOnly(*o.HTTPOnly))
	}
	if o.SameSite != nil {
		opts = append(opts, cookie.WithSameSite(sameSiteModes[*o.SameSite]))
	}
	return opts
}

var sameSiteModes = map[string]http.SameSite{
	"lax":    http.SameSiteLaxMode,
	"strict": http.SameSiteStrictMode,
	"none":   http.SameSiteNoneMode,
}

// req:set_cookie(name, value, {path=, domain=, max_age=, secure=,
// http_only=, same_site=, signed=})
func reqSetCookie(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	var opts cookieOptions
	if tbl := L.OptTable(4, nil); tbl != nil {
		if err := luamod.Decode(tbl, &opts); err != nil {
			L.ArgError(4, err.Error())
			return 0
		}
	}
	c := req.NewCookie(L.CheckString(2), L.CheckString(3), opts.options()...)
	if err := req.SetCookie(c, opts.Signed); err != nil {
		L.RaiseError("set_cookie: %s", err.Error())
	}
	return 0
}

type sessionOptions struct {
	ID       string `mapstructure:"id"`
	Secret   string `mapstructure:"secret"`
	Timeout  int    `mapstructure:"timeout"`
	Lock     *bool  `mapstructure:"lock"`
	Mismatch string `mapstructure:"mismatch"`
}

func (o sessionOptions) open() []session.OpenOption {
	var opts []session.OpenOption
	if o.ID != "" {
		opts = append(opts, session.WithID(o.ID))
	}
	if o.Secret != "" {
		opts = append(opts, session.WithSigningSecret(o.Secret))
	}
	if o.Timeout > 0 {
		opts = append(opts, session.WithIdleTimeout(time.Duration(o.Timeout)*time.Second))
	}
	if o.Lock != nil && !*o.Lock {
		opts = append(opts, session.WithoutLock())
	}
	if o.Mismatch != "" {
		opts = append(opts, session.WithMismatchPolicy(cookie.ParseMismatchPolicy(o.Mismatch)))
	}
	return opts
}

// req:session({id=, secret=, timeout=, lock=, mismatch=}) opens the
// client's session once per request.
func reqSession(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	var opts sessionOptions
	if tbl := L.OptTable(2, nil); tbl != nil {
		if err := luamod.Decode(tbl, &opts); err != nil {
			L.ArgError(2, err.Error())
			return 0
		}
	}
	s, err := req.Session(opts.open()...)
	if err != nil {
		L.RaiseError("session: %s", err.Error())
		return 0
	}
	luamod.Push(L, s)
	return 1
}

func reqRemoteAddr(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	L.Push(lua.LString(req.RemoteIP()))
	return 1
}

func reqID(L *lua.LState) int {
	req := luamod.Check[*Request](L, 1)
	L.Push(lua.LString(req.ID()))
	return 1
}

var sessionMethods = map[string]lua.LGFunction{
	"id":          sessID,
	"is_new":      sessIsNew,
	"get":         sessGet,
	"set":         sessSet,
	"delete":      sessDelete,
	"save":        sessSave,
	"invalidate":  sessInvalidate,
	"set_timeout": sessSetTimeout,
	"timeout":     sessTimeout,
	"created":     sessCreated,
	"accessed":    sessAccessed,
}

func sessID(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	L.Push(lua.LString(s.ID()))
	return 1
}

func sessIsNew(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	L.Push(lua.LBool(s.IsNew()))
	return 1
}

// s:get(key, default)
func sessGet(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	v, ok := s.Get(L.CheckString(2))
	if !ok {
		L.Push(L.Get(3))
		return 1
	}
	luamod.Push(L, v)
	return 1
}

// s:set(key, value) stores plain data; nil deletes the key.
func sessSet(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	key := L.CheckString(2)
	v := L.Get(3)
	switch v.Type() {
	case lua.LTNil:
		s.Delete(key)
	case lua.LTFunction, lua.LTUserData, lua.LTThread, lua.LTChannel:
		L.ArgError(3, "session values must be plain data")
	default:
		s.Set(key, luamod.FromLua(v))
	}
	return 0
}

func sessDelete(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	s.Delete(L.CheckString(2))
	return 0
}

func sessSave(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	if err := s.Save(luamod.Context(L)); err != nil {
		L.RaiseError("session save: %s", err.Error())
	}
	return 0
}

func sessInvalidate(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	if err := s.Invalidate(luamod.Context(L)); err != nil {
		L.RaiseError("session invalidate: %s", err.Error())
	}
	return 0
}

// s:set_timeout(seconds)
func sessSetTimeout(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	s.SetTimeout(time.Duration(L.CheckInt(2)) * time.Second)
	return 0
}

func sessTimeout(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	L.Push(lua.LNumber(s.Timeout() / time.Second))
	return 1
}

func sessCreated(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	L.Push(lua.LNumber(s.Created().Unix()))
	return 1
}

func sessAccessed(L *lua.LState) int {
	s := luamod.Check[*session.Session](L, 1)
	L.Push(lua.LNumber(s.LastAccessed().Unix()))
	return 1
}
