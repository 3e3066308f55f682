// Package fsstore keeps one file per session in a sharded directory tree,
// <dir>/<id[:2]>/<id>. Writes go through a temporary file and a rename so a
// reader never sees a partial record.
//
// Cleanup walks the 256 shards in time slices. When a slice runs out of
// time the next shard index is written to fs_status.txt and the following
// sweep resumes there. A sentinel lock file keeps concurrent sweeps apart;
// a sentinel older than the stale limit is treated as abandoned.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/modserve/pkg/session"
)

const (
	statusFile    = "fs_status.txt"
	lockFile      = ".fs_cleanup.lock"
	statusVersion = 1
	shardCount    = 256
)

// Config is the environment configuration of the store.
type Config struct {
	Dir        string        `env:"SESSION_DIRECTORY" envDefault:"/tmp/modserve_sessions"`
	Grace      time.Duration `env:"SESSION_GRACE_PERIOD" envDefault:"4m"`
	TimeSlice  time.Duration `env:"SESSION_CLEANUP_TIME_LIMIT" envDefault:"2s"`
	Fast       bool          `env:"SESSION_FAST_CLEANUP" envDefault:"true"`
	Verify     bool          `env:"SESSION_VERIFY_CLEANUP" envDefault:"true"`
	Timeout    time.Duration `env:"SESSION_TIMEOUT" envDefault:"30m"`
	StaleAfter time.Duration `env:"SESSION_CLEANUP_STALE_LOCK" envDefault:"10m"`
}

type Store struct {
	dir        string
	grace      time.Duration
	timeSlice  time.Duration
	fast       bool
	verify     bool
	timeout    time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Store)

func WithGrace(d time.Duration) Option {
	return func(s *Store) { s.grace = d }
}

// WithTimeSlice bounds one Cleanup call; 0 means no bound.
func WithTimeSlice(d time.Duration) Option {
	return func(s *Store) { s.timeSlice = d }
}

// WithFastCleanup skips files whose mtime is younger than the default
// timeout plus grace without reading them.
func WithFastCleanup(fast bool) Option {
	return func(s *Store) { s.fast = fast }
}

// WithVerifyCleanup reads each candidate record and checks its own timeout
// before deleting it.
func WithVerifyCleanup(verify bool) Option {
	return func(s *Store) { s.verify = verify }
}

// WithDefaultTimeout is the timeout assumed by fast cleanup.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

func WithStaleLockAfter(d time.Duration) Option {
	return func(s *Store) { s.staleAfter = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:        dir,
		grace:      4 * time.Minute,
		timeSlice:  2 * time.Second,
		fast:       true,
		verify:     true,
		timeout:    30 * time.Minute,
		staleAfter: 10 * time.Minute,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("fsstore: create dir: %w", err)
	}
	return s, nil
}

// NewFromConfig creates a store from cfg.
func NewFromConfig(cfg Config, opts ...Option) (*Store, error) {
	base := []Option{
		WithGrace(cfg.Grace),
		WithTimeSlice(cfg.TimeSlice),
		WithFastCleanup(cfg.Fast),
		WithVerifyCleanup(cfg.Verify),
		WithDefaultTimeout(cfg.Timeout),
		WithStaleLockAfter(cfg.StaleAfter),
	}
	return New(cfg.Dir, append(base, opts...)...)
}

func (s *Store) path(id string) (string, error) {
	if !session.ValidateID(id) {
		return "", session.ErrInvalidSessionID
	}
	return filepath.Join(s.dir, id[:2], id), nil
}

func (s *Store) Load(_ context.Context, id string) (*session.Record, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, session.ErrSessionNotFound
		}
		return nil, errors.Join(session.ErrBackendIO, err)
	}
	return session.DecodeRecord(raw)
}

func (s *Store) Save(_ context.Context, id string, rec *session.Record) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	raw, err := session.EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := writeAtomic(p, raw); err != nil {
		return errors.Join(session.ErrBackendIO, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Join(session.ErrBackendIO, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Status is the persisted progress of an interrupted sweep.
type Status struct {
	Version int
	// Next is the first shard the next sweep visits.
	Next    int
	Expired int
	Total   int
	Elapsed time.Duration
}

func (st Status) String() string {
	return fmt.Sprintf("%d %d %d %d %.3f", st.Version, st.Next, st.Expired, st.Total, st.Elapsed.Seconds())
}

// ParseStatus parses the contents of fs_status.txt.
func ParseStatus(raw string) (Status, error) {
	f := strings.Fields(raw)
	if len(f) != 5 {
		return Status{}, fmt.Errorf("fsstore: malformed status %q", raw)
	}
	var (
		st  Status
		err error
	)
	ints := []*int{&st.Version, &st.Next, &st.Expired, &st.Total}
	for i, dst := range ints {
		if *dst, err = strconv.Atoi(f[i]); err != nil {
			return Status{}, fmt.Errorf("fsstore: malformed status %q: %w", raw, err)
		}
	}
	secs, err := strconv.ParseFloat(f[4], 64)
	if err != nil {
		return Status{}, fmt.Errorf("fsstore: malformed status %q: %w", raw, err)
	}
	st.Elapsed = time.Duration(secs * float64(time.Second))
	if st.Next < 0 || st.Next >= shardCount {
		st.Next = 0
	}
	return st, nil
}

// ReadStatus returns the current sweep status. A missing or unreadable
// status file yields a fresh status.
func (s *Store) ReadStatus() Status {
	raw, err := os.ReadFile(filepath.Join(s.dir, statusFile))
	if err != nil {
		return Status{Version: statusVersion}
	}
	st, err := ParseStatus(string(raw))
	if err != nil || st.Version != statusVersion {
		return Status{Version: statusVersion}
	}
	return st
}

func (s *Store) writeStatus(st Status) error {
	st.Version = statusVersion
	return writeAtomic(filepath.Join(s.dir, statusFile), []byte(st.String()+"\n"))
}
