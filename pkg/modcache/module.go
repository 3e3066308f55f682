package modcache

import "context"

// Loader creates empty module namespaces for source files.
type Loader interface {
	NewModule(label, path string) (Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(label, path string) (Module, error)

func (f LoaderFunc) NewModule(label, path string) (Module, error) { return f(label, path) }

// Module is one loaded instance of a source file.
type Module interface {
	Label() string
	Path() string
	// Exec runs the source's top-level code. Imports made during Exec go
	// through the cache with the same ctx.
	Exec(ctx context.Context) error
	Close() error
}

// Reloadable is implemented by modules that carry state across reloads.
// AdoptState is called on the new, not yet executed module with the
// previous instance. If it fails, the previous instance's Discard runs and
// a fresh module is created instead.
type Reloadable interface {
	AdoptState(ctx context.Context, previous Module) error
	Discard()
}
