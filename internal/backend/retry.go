package backend

import (
	"context"
	"time"
)

// retry calls connect up to attempts times. Attempt n waits n*interval
// before the next try so services restarted together do not hammer the
// database in lockstep.
func retry[T any](ctx context.Context, attempts int, interval time.Duration, connect func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	if attempts < 1 {
		attempts = 1
	}
	for i := range attempts {
		v, err := connect(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(time.Duration(i+1) * interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, lastErr
}
