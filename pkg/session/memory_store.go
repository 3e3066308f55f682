package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Records are copied on the way
// in and out so callers never share maps with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	grace   time.Duration
	now     func() time.Time
	ticker  *time.Ticker
	done    chan struct{}
}

// NewMemoryStore creates a store. A positive cleanupInterval starts a
// background sweep; stop it with Close.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		go s.cleanupLoop(s.ticker.C)
	}
	return s
}

// WithGrace sets extra idle time a record survives past its timeout before
// Cleanup removes it.
func (s *MemoryStore) WithGrace(grace time.Duration) *MemoryStore {
	s.grace = grace
	return s
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, id string, rec *Record) error {
	if rec == nil {
		return ErrCorruptRecord
	}
	s.mu.Lock()
	s.records[id] = rec.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, rec := range s.records {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if rec.Expired(now, s.grace) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close stops the background sweep.
func (s *MemoryStore) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.done)
		s.ticker = nil
	}
	return nil
}

func (s *MemoryStore) cleanupLoop(tick <-chan time.Time) {
	for {
		select {
		case <-tick:
			_, _ = s.Cleanup(context.Background())
		case <-s.done:
			return
		}
	}
}
