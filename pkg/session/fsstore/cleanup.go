package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/session"
)

// ErrCleanupRunning is returned when another sweep holds the sentinel.
var ErrCleanupRunning = errors.New("fsstore: cleanup already running")

// Cleanup removes expired and unreadable records, visiting shards from the
// persisted resume index until the time slice runs out.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	release, err := s.acquireSentinel()
	if err != nil {
		return 0, err
	}
	defer release()

	start := s.now()
	st := s.ReadStatus()
	if st.Next == 0 {
		st.Expired, st.Total, st.Elapsed = 0, 0, 0
	}

	var deadline time.Time
	if s.timeSlice > 0 {
		deadline = start.Add(s.timeSlice)
	}

	removed := 0
	shard := st.Next
	for ; shard < shardCount; shard++ {
		if err := ctx.Err(); err != nil {
			break
		}
		if !deadline.IsZero() && !s.now().Before(deadline) {
			break
		}
		n, total, err := s.sweepShard(ctx, fmt.Sprintf("%02x", shard))
		removed += n
		st.Expired += n
		st.Total += total
		if err != nil {
			s.logger.ErrorContext(ctx, "session shard sweep failed",
				logger.Component("fsstore"), logger.Error(err))
		}
	}

	st.Elapsed += s.now().Sub(start)
	if shard >= shardCount {
		s.logger.InfoContext(ctx, "session sweep complete",
			logger.Component("fsstore"),
			logger.Count("expired", st.Expired),
			logger.Count("total", st.Total),
			logger.Duration(st.Elapsed))
		st.Next = 0
	} else {
		st.Next = shard
		s.logger.InfoContext(ctx, "session sweep paused",
			logger.Component("fsstore"),
			logger.Count("next", st.Next),
			logger.Count("expired", st.Expired),
			logger.Count("total", st.Total),
			logger.Duration(st.Elapsed))
	}
	if err := s.writeStatus(st); err != nil {
		return removed, errors.Join(session.ErrBackendIO, err)
	}
	return removed, ctx.Err()
}

func (s *Store) sweepShard(ctx context.Context, name string) (removed, total int, err error) {
	dir := filepath.Join(s.dir, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	now := s.now()
	cutoff := now.Add(-(s.timeout + s.grace))
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, total, nil
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		total++
		path := filepath.Join(dir, e.Name())

		if s.fast {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if !s.verify {
				if os.Remove(path) == nil {
					removed++
				}
				continue
			}
		}

		if s.expiredOnDisk(path, now) {
			if err := os.Remove(path); err == nil || errors.Is(err, fs.ErrNotExist) {
				removed++
			}
		}
	}
	return removed, total, nil
}

// expiredOnDisk reads the record at path. Unreadable records count as
// expired.
func (s *Store) expiredOnDisk(path string, now time.Time) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return !errors.Is(err, fs.ErrNotExist)
	}
	rec, err := session.DecodeRecord(raw)
	if err != nil {
		return true
	}
	return rec.Expired(now, s.grace)
}

func (s *Store) acquireSentinel() (func(), error) {
	path := filepath.Join(s.dir, lockFile)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, errors.Join(session.ErrBackendIO, err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil || s.now().Sub(info.ModTime()) < s.staleAfter {
			return nil, ErrCleanupRunning
		}
		s.logger.Warn("removing stale cleanup lock", logger.Component("fsstore"))
		os.Remove(path)
	}
	return nil, ErrCleanupRunning
}
