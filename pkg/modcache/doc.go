// Package modcache caches handler modules loaded from source files and
// decides when they must be reloaded.
//
// Each distinct source path gets one entry, identified by a label derived
// from the cleaned absolute path. An entry records the file's mtime at the
// last successful load, a generation stamped from a process-wide counter,
// and the labels of the modules imported while it executed. On each
// resolution the cache reloads the module when:
//
//   - the entry is new or marked dirty,
//   - the file's mtime changed,
//   - any transitive child is dirty, missing, newer on disk, part of a
//     cycle, or was loaded after its parent.
//
// Loading runs under a per-entry lock, so concurrent resolutions of the same
// path execute the source once. Unrelated paths load in parallel.
//
// A [Scope] carried in the context collects the modules resolved within one
// request. Nested imports consult it first: a module importing itself while
// it loads fails with [ErrSelfImport], and a longer cycle receives the
// in-progress instance.
//
// The interpreter is pluggable through [Loader] and [Module]. Modules that
// want to carry state across a reload implement [Reloadable].
//
//	cache := modcache.New(luamod.NewLoader(), modcache.WithLogger(log))
//	mod, err := cache.Resolve(ctx, "/srv/app/handlers.lua", modcache.ResolveOptions{AutoReload: true})
package modcache
