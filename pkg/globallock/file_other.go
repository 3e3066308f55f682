//go:build !unix

package globallock

import (
	"context"
	"time"
)

// File is unavailable on this platform.
type File struct{}

func NewFile(string, time.Duration) (*File, error) {
	return nil, ErrUnsupported
}

func (*File) Lock(context.Context, Key) (UnlockFunc, error) {
	return nil, ErrUnsupported
}
