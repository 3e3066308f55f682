package luamod

import (
	"log/slog"
	"net/http"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Handler results.
const (
	OK       = 0
	DECLINED = -1
	DONE     = -2
)

var httpConstants = map[string]int{
	"HTTP_CONTINUE":               http.StatusContinue,
	"HTTP_OK":                     http.StatusOK,
	"HTTP_CREATED":                http.StatusCreated,
	"HTTP_ACCEPTED":               http.StatusAccepted,
	"HTTP_NO_CONTENT":             http.StatusNoContent,
	"HTTP_MOVED_PERMANENTLY":      http.StatusMovedPermanently,
	"HTTP_MOVED_TEMPORARILY":      http.StatusFound,
	"HTTP_SEE_OTHER":              http.StatusSeeOther,
	"HTTP_NOT_MODIFIED":           http.StatusNotModified,
	"HTTP_TEMPORARY_REDIRECT":     http.StatusTemporaryRedirect,
	"HTTP_BAD_REQUEST":            http.StatusBadRequest,
	"HTTP_UNAUTHORIZED":           http.StatusUnauthorized,
	"HTTP_FORBIDDEN":              http.StatusForbidden,
	"HTTP_NOT_FOUND":              http.StatusNotFound,
	"HTTP_METHOD_NOT_ALLOWED":     http.StatusMethodNotAllowed,
	"HTTP_CONFLICT":               http.StatusConflict,
	"HTTP_GONE":                   http.StatusGone,
	"HTTP_PRECONDITION_FAILED":    http.StatusPreconditionFailed,
	"HTTP_UNSUPPORTED_MEDIA_TYPE": http.StatusUnsupportedMediaType,
	"HTTP_INTERNAL_SERVER_ERROR":  http.StatusInternalServerError,
	"HTTP_NOT_IMPLEMENTED":        http.StatusNotImplemented,
	"HTTP_BAD_GATEWAY":            http.StatusBadGateway,
	"HTTP_SERVICE_UNAVAILABLE":    http.StatusServiceUnavailable,
}

func (m *Module) installBuiltins() {
	L := m.L
	L.SetGlobal("OK", lua.LNumber(OK))
	L.SetGlobal("DECLINED", lua.LNumber(DECLINED))
	L.SetGlobal("DONE", lua.LNumber(DONE))
	for name, code := range httpConstants {
		L.SetGlobal(name, lua.LNumber(code))
	}
	L.SetGlobal("import", L.NewFunction(m.luaImport))
	L.SetGlobal("abort", L.NewFunction(luaAbort))
	L.SetGlobal("log", L.NewFunction(m.luaLog))
	L.SetGlobal("__file__", lua.LString(m.path))
	L.SetGlobal("__name__", lua.LString(m.label))
}

func (m *Module) luaImport(L *lua.LState) int {
	name := L.CheckString(1)
	if m.loader.importer == nil {
		raise(L, ErrNoImporter)
		return 0
	}
	mod, err := m.loader.importer.Import(contextOf(L), name)
	if err != nil {
		raise(L, err)
		return 0
	}
	child, err := asModule(mod)
	if err != nil {
		raise(L, err)
		return 0
	}
	L.Push(child.proxy(m))
	return 1
}

func luaAbort(L *lua.LState) int {
	abort := &AbortError{
		Status: L.OptInt(1, http.StatusInternalServerError),
		Body:   L.OptString(2, ""),
	}
	ud := L.NewUserData()
	ud.Value = abort
	L.Error(ud, 0)
	return 0
}

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"notice":  slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"err":     slog.LevelError,
	"error":   slog.LevelError,
}

// luaLog accepts log(message) or log(level, message).
func (m *Module) luaLog(L *lua.LState) int {
	level, msg := slog.LevelInfo, ""
	if L.GetTop() >= 2 {
		if lv, ok := logLevels[strings.ToLower(L.CheckString(1))]; ok {
			level = lv
		}
		msg = L.CheckString(2)
	} else {
		msg = L.CheckString(1)
	}
	m.logger.Log(contextOf(L), level, msg)
	return 0
}

type proxyRef struct {
	module *Module
}

// proxy returns a table in caller's state whose fields read and write the
// globals of m.
func (m *Module) proxy(caller *Module) *lua.LTable {
	L := caller.L
	tbl := L.NewTable()
	mt := L.NewTable()
	ref := L.NewUserData()
	ref.Value = &proxyRef{module: m}
	L.SetField(mt, "__module", ref)
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		var out lua.LValue = lua.LNil
		err := m.with(contextOf(L), func(own *lua.LState) error {
			out = newTransfer(m, caller).value(own.GetGlobal(key))
			return nil
		})
		if err != nil {
			raise(L, err)
			return 0
		}
		L.Push(out)
		return 1
	}))
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		val := L.CheckAny(3)
		err := m.with(contextOf(L), func(own *lua.LState) error {
			own.SetGlobal(key, newTransfer(caller, m).value(val))
			return nil
		})
		if err != nil {
			raise(L, err)
		}
		return 0
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("module " + m.path))
		return 1
	}))
	L.SetMetatable(tbl, mt)
	return tbl
}

// proxyTarget returns the module behind a proxy table, or nil.
func (m *Module) proxyTarget(tbl *lua.LTable) *Module {
	mt, ok := tbl.Metatable.(*lua.LTable)
	if !ok {
		return nil
	}
	ud, ok := mt.RawGetString("__module").(*lua.LUserData)
	if !ok {
		return nil
	}
	ref, ok := ud.Value.(*proxyRef)
	if !ok {
		return nil
	}
	return ref.module
}
