package modcache

import (
	"sync"
	"time"
)

type entry struct {
	label string
	path  string

	// Held for a reload decision and the load that may follow it. Guarded by
	// Cache.lockMu; released is closed when owner gives the entry up.
	owner    *Scope
	released chan struct{}

	// Guards the fields below. Never held across I/O or Exec.
	stateMu      sync.RWMutex
	module       Module
	mtime        int64
	generation   uint64
	children     []string
	instances    int
	directHits   int
	indirectHits int
	failures     int
	lastAccess   time.Time
}

func newEntry(label, path string) *entry {
	return &entry{label: label, path: path}
}

// snapshot is a consistent copy of the fields a dependency walk reads.
type snapshot struct {
	module     Module
	mtime      int64
	generation uint64
	children   []string
}

func (e *entry) snapshot() snapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return snapshot{
		module:     e.module,
		mtime:      e.mtime,
		generation: e.generation,
		children:   e.children,
	}
}

func (e *entry) markDirty() {
	e.stateMu.Lock()
	e.mtime = 0
	e.stateMu.Unlock()
}

func (e *entry) touch(now time.Time, direct bool) {
	e.stateMu.Lock()
	if direct {
		e.directHits++
	} else {
		e.indirectHits++
	}
	e.lastAccess = now
	e.stateMu.Unlock()
}

// EntryStats is a read-only view of a cache entry.
type EntryStats struct {
	Label        string
	Path         string
	ModTime      time.Time
	Dirty        bool
	Generation   uint64
	Children     []string
	Instances    int
	DirectHits   int
	IndirectHits int
	Failures     int
	LastAccess   time.Time
}

func (e *entry) stats() EntryStats {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	st := EntryStats{
		Label:        e.label,
		Path:         e.path,
		Dirty:        e.mtime == 0,
		Generation:   e.generation,
		Children:     append([]string(nil), e.children...),
		Instances:    e.instances,
		DirectHits:   e.directHits,
		IndirectHits: e.indirectHits,
		Failures:     e.failures,
		LastAccess:   e.lastAccess,
	}
	if e.mtime != 0 {
		st.ModTime = time.Unix(0, e.mtime)
	}
	return st
}
