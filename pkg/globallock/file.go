//go:build unix

package globallock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// File locks keys across processes with one flock(2) file per key under dir.
// Lock files are left in place after release.
type File struct {
	dir  string
	poll time.Duration
	mem  *Memory
}

// NewFile creates dir if needed and returns a File locker.
func NewFile(dir string, poll time.Duration) (*File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	return &File{dir: dir, poll: poll, mem: NewMemory()}, nil
}

func (f *File) path(key Key) string {
	sum := sha256.Sum256([]byte(key.String()))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:16])+".lock")
}

func (f *File) Lock(ctx context.Context, key Key) (UnlockFunc, error) {
	// In-process waiters queue on the memory lock instead of polling flock.
	unlockMem, err := f.mem.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	fd, err := os.OpenFile(f.path(key), os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		_ = unlockMem(ctx)
		return nil, errors.Join(ErrLockFailed, err)
	}

	for {
		err = unix.Flock(int(fd.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			fd.Close()
			_ = unlockMem(ctx)
			return nil, errors.Join(ErrLockFailed, err)
		}
		select {
		case <-ctx.Done():
			fd.Close()
			_ = unlockMem(ctx)
			return nil, ctx.Err()
		case <-time.After(f.poll):
		}
	}

	return once(func(ctx context.Context) error {
		uerr := unix.Flock(int(fd.Fd()), unix.LOCK_UN)
		cerr := fd.Close()
		_ = unlockMem(ctx)
		return errors.Join(uerr, cerr)
	}), nil
}
