package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/modserve/pkg/globallock"
	"github.com/dmitrymomot/modserve/pkg/logger"
)

// Session is the state of one client between requests. A Session belongs to
// the request that opened it.
type Session struct {
	m      *Manager
	rc     RequestContext
	secret string

	mu          sync.Mutex
	id          string
	isNew       bool
	created     time.Time
	accessed    time.Time
	timeout     time.Duration
	data        map[string]any
	useLock     bool
	unlock      globallock.UnlockFunc
	invalidated bool
}

func (s *Session) ID() string { return s.id }

// IsNew reports whether the session was created by this request.
func (s *Session) IsNew() bool { return s.isNew }

func (s *Session) Created() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessed
}

func (s *Session) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// SetTimeout changes the idle timeout persisted by the next Save.
func (s *Session) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

func (s *Session) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlock != nil
}

func (s *Session) IsInvalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Session) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// GetInt accepts the numeric types a record can hold after a round trip
// through a JSON-encoded store.
func (s *Session) GetInt(key string) (int, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (s *Session) GetBool(key string) (bool, bool) {
	v, ok := s.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

func (s *Session) Clear() {
	s.mu.Lock()
	clear(s.data)
	s.mu.Unlock()
}

// Keys returns the data keys in sorted order.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.data))
}

// Data returns a copy of the session data.
func (s *Session) Data() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data)
}

// Save persists the session. It does nothing after Invalidate.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		return nil
	}
	rec := &Record{
		Data:     maps.Clone(s.data),
		Created:  s.created,
		Accessed: s.accessed,
		Timeout:  TimeoutSeconds(s.timeout),
	}
	s.mu.Unlock()

	if err := s.m.store.Save(ctx, s.id, rec); err != nil {
		return s.storeFailure(ctx, "save", err)
	}
	return nil
}

// Invalidate expires the cookie, deletes the record and clears the data.
func (s *Session) Invalidate(ctx context.Context) error {
	var errs []error
	if err := s.m.expireCookie(s); err != nil {
		errs = append(errs, err)
	}
	if err := s.m.store.Delete(ctx, s.id); err != nil {
		if ferr := s.storeFailure(ctx, "delete", err); ferr != nil {
			errs = append(errs, ferr)
		}
	}

	s.mu.Lock()
	clear(s.data)
	s.invalidated = true
	s.mu.Unlock()
	return errors.Join(errs...)
}

// Load re-reads the record from the store. It reports false when the record
// is missing, unreadable or expired.
func (s *Session) Load(ctx context.Context) bool {
	return s.load(ctx)
}

// Cleanup schedules a store sweep after the current request completes.
func (s *Session) Cleanup() {
	s.m.scheduleSweep(s.rc)
}

// Lock takes the per-id session lock if it is not already held and releases
// it automatically at the end of the request.
func (s *Session) Lock(ctx context.Context) error {
	s.mu.Lock()
	held, invalidated := s.unlock != nil, s.invalidated
	s.mu.Unlock()
	if held {
		return nil
	}
	if invalidated {
		return ErrInvalidated
	}

	if d := s.m.cfg.LockTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	unlock, err := s.m.locker.Lock(ctx, s.m.lockKey(s.id))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.unlock = unlock
	s.mu.Unlock()
	s.rc.RegisterCleanup(s.Unlock)
	return nil
}

// Unlock releases the session lock. Calling it without holding the lock is
// a no-op.
func (s *Session) Unlock() {
	s.mu.Lock()
	unlock := s.unlock
	s.unlock = nil
	s.mu.Unlock()
	if unlock == nil {
		return
	}
	if err := unlock(context.Background()); err != nil {
		s.m.logger.Warn("session unlock failed", logger.SessionID(s.id), logger.Error(err))
	}
}

func (s *Session) lockIfEnabled(ctx context.Context) error {
	if !s.useLock {
		return nil
	}
	return s.Lock(ctx)
}

func (s *Session) load(ctx context.Context) bool {
	rec, err := s.m.store.Load(ctx, s.id)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			s.m.metrics.storeError("load")
			s.m.logger.WarnContext(ctx, "session record unreadable, starting fresh",
				logger.SessionID(s.id), logger.Error(err))
		}
		return false
	}
	if rec.Expired(s.m.now(), 0) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = rec.Data
	if s.data == nil {
		s.data = make(map[string]any)
	}
	s.created = rec.Created
	s.accessed = rec.Accessed
	s.timeout = rec.TimeoutDuration()
	return true
}

func (s *Session) storeFailure(ctx context.Context, op string, err error) error {
	s.m.metrics.storeError(op)
	if s.m.cfg.StrictSave {
		return errors.Join(ErrBackendIO, err)
	}
	s.m.logger.ErrorContext(ctx, "session store "+op+" failed",
		logger.SessionID(s.id), logger.Error(err))
	return nil
}
