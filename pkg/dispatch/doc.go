// Package dispatch maps HTTP requests to handlers defined in cached Lua
// modules.
//
// A Location binds a URL path to an ordered list of handler names of the
// form "module::object". For every request the dispatcher resolves each
// module through a modcache.Cache, looks the object up, calls it with a
// *Request and interprets the result:
//
//	OK        continue with the next handler
//	DONE      stop; the response is complete
//	DECLINED  stop; nothing handled the request, so the answer is 404
//	HTTP_*    stop and answer with that status
//
// abort(status, body) inside a handler stops the chain immediately.
// Load and script errors are reported once, here: in debug mode a
// traceback page is rendered, otherwise a generic 500 is sent and the
// detail goes to the log.
//
// Usage:
//
//	cache, _ := luamod.NewCache(dispatch.LuaTypes())
//	d := dispatch.New(cache, dispatch.WithSessions(sessions))
//	http.ListenAndServe(":8080", d.Router(locations...))
package dispatch
