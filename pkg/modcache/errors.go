package modcache

import (
	"errors"
	"fmt"
)

var (
	// ErrSelfImport is returned when a module imports its own source while it
	// is being loaded.
	ErrSelfImport = errors.New("modcache: module imports itself")

	// ErrModuleNotFound is returned when an import name matches no file on
	// the search path, or the resolved path does not exist.
	ErrModuleNotFound = errors.New("modcache: module not found")

	// ErrImportDeadlock is returned when two requests load modules that import
	// each other and each holds the module the other needs.
	ErrImportDeadlock = errors.New("modcache: concurrent import cycle")

	ErrNoLoader = errors.New("modcache: no loader configured")
)

// LoadError reports a module whose source failed to load or execute.
type LoadError struct {
	Label string
	Path  string
	// Reload is set when a previously loaded module failed to reload; the
	// last good module keeps serving.
	Reload bool
	Err    error
}

func (e *LoadError) Error() string {
	if e.Reload {
		return fmt.Sprintf("modcache: reload %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("modcache: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
