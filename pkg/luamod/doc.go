// Package luamod runs handler modules written in Lua on top of
// github.com/yuin/gopher-lua and plugs them into modcache.
//
// Every module instance owns one interpreter state. A state is used by one
// goroutine at a time; calls that re-enter a module already on the current
// call chain (a callback into the importing module, for example) do not
// block, because the chain of held modules travels in the context.
//
// Source files see these globals besides the selected standard libraries:
//
//	import(name)          -- returns a proxy onto another module
//	abort(status, body)   -- stops the handler chain with an HTTP status
//	log(level, message)   -- writes to the server log
//	OK, DECLINED, DONE    -- handler results
//	HTTP_OK, HTTP_NOT_FOUND, ...
//
// Values crossing between modules are copied. Functions become trampolines
// that run in the module that defined them, and registered Go types keep
// their methods on both sides.
//
// A module may define __clone() returning a table; on reload its fields
// become globals of the new instance before the new source runs. If the
// transfer fails, __purge() is called on the old instance.
package luamod
