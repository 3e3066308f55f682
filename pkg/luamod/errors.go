package luamod

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

var (
	ErrObjectNotFound = errors.New("luamod: object not found")
	ErrNotCallable    = errors.New("luamod: object is not callable")
	ErrNoImporter     = errors.New("luamod: module imports are not configured")
	ErrNotLuaModule   = errors.New("luamod: imported module is not a lua module")
)

// ScriptError is a Lua runtime or syntax error.
type ScriptError struct {
	Path       string
	Message    string
	StackTrace string
	Cause      error
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() error { return e.Cause }

// AbortError is raised by abort(status, body) and travels unchanged through
// nested module calls.
type AbortError struct {
	Status int
	Body   string
}

func (e *AbortError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("abort: status %d", e.Status)
	}
	return fmt.Sprintf("abort: status %d: %s", e.Status, e.Body)
}

// scriptError converts an error returned by LoadFile, PCall or CallByParam.
func scriptError(path string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &ScriptError{Path: path, Message: err.Error(), Cause: err}
	}
	if ud, ok := apiErr.Object.(*lua.LUserData); ok {
		if abort, ok := ud.Value.(*AbortError); ok {
			return abort
		}
		if e, ok := ud.Value.(error); ok {
			return &ScriptError{Path: path, Message: e.Error(), StackTrace: apiErr.StackTrace, Cause: e}
		}
	}
	msg := apiErr.Error()
	if apiErr.Object != nil && apiErr.Object != lua.LNil {
		msg = lua.LVAsString(apiErr.Object)
		if msg == "" {
			msg = apiErr.Object.String()
		}
	}
	return &ScriptError{
		Path:       path,
		Message:    strings.TrimSpace(msg),
		StackTrace: apiErr.StackTrace,
		Cause:      apiErr.Cause,
	}
}

// raise re-raises err inside L. Aborts stay aborts.
func raise(L *lua.LState, err error) {
	var abort *AbortError
	if errors.As(err, &abort) {
		ud := L.NewUserData()
		ud.Value = abort
		L.Error(ud, 0)
		return
	}
	var se *ScriptError
	if errors.As(err, &se) {
		L.RaiseError("%s", se.Message)
		return
	}
	L.RaiseError("%s", err.Error())
}
