package globallock

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrEmptyKey    = errors.New("globallock.empty_key")
	ErrUnsupported = errors.New("globallock.unsupported_platform")
	ErrLockFailed  = errors.New("globallock.lock_failed")
)

// Key identifies a lock. Server scopes tokens so two virtual servers never
// contend on the same token.
type Key struct {
	Server string
	Token  string
}

func (k Key) String() string { return k.Server + ":" + k.Token }

// UnlockFunc releases a held lock.
type UnlockFunc func(ctx context.Context) error

// Locker acquires keyed locks.
type Locker interface {
	Lock(ctx context.Context, key Key) (UnlockFunc, error)
}

// once wraps fn so only its first invocation runs.
func once(fn UnlockFunc) UnlockFunc {
	var (
		o   sync.Once
		err error
	)
	return func(ctx context.Context) error {
		o.Do(func() { err = fn(ctx) })
		return err
	}
}

// WithLock runs fn while holding key.
func WithLock(ctx context.Context, l Locker, key Key, fn func(context.Context) error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock(context.WithoutCancel(ctx))
	return fn(ctx)
}
