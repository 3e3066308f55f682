package globallock

import (
	"context"
	"sync"
)

type memEntry struct {
	sem  chan struct{}
	refs int
}

// Memory is an in-process keyed lock. Entries exist only while someone holds
// or waits for them.
type Memory struct {
	mu      sync.Mutex
	entries map[Key]*memEntry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]*memEntry)}
}

func (m *Memory) Lock(ctx context.Context, key Key) (UnlockFunc, error) {
	if key.Token == "" {
		return nil, ErrEmptyKey
	}

	e := m.acquire(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key)
		return nil, ctx.Err()
	}

	return once(func(context.Context) error {
		<-e.sem
		m.release(key)
		return nil
	}), nil
}

// Held reports how many goroutines hold or wait for key.
func (m *Memory) Held(key Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e.refs
	}
	return 0
}

func (m *Memory) acquire(key Key) *memEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &memEntry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Memory) release(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(m.entries, key)
	}
}
