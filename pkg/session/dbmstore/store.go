// Package dbmstore keeps session records in a single key-value file
// (bbolt). The file is opened for each operation, so several processes can
// share it; bbolt's file lock serializes writers across processes and a
// mutex serializes goroutines within one.
package dbmstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/session"
)

var bucketName = []byte("sessions")

// Config is the environment configuration of the store.
type Config struct {
	Path        string        `env:"SESSION_DBM" envDefault:"modserve_sessions.db"`
	LockTimeout time.Duration `env:"SESSION_DBM_LOCK_TIMEOUT" envDefault:"5s"`
	Grace       time.Duration `env:"SESSION_GRACE_PERIOD" envDefault:"4m"`
}

type Store struct {
	path        string
	lockTimeout time.Duration
	grace       time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu sync.Mutex
}

type Option func(*Store)

// WithLockTimeout bounds the wait for the file lock held by another process.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

func WithGrace(d time.Duration) Option {
	return func(s *Store) { s.grace = d }
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

// New creates the database file and bucket if needed.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:        path,
		lockTimeout: 5 * time.Second,
		grace:       4 * time.Minute,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("dbmstore: create dir: %w", err)
		}
	}
	err := s.update(func(*bolt.Bucket) error { return nil })
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromConfig creates a store from cfg.
func NewFromConfig(cfg Config, opts ...Option) (*Store, error) {
	base := []Option{WithLockTimeout(cfg.LockTimeout), WithGrace(cfg.Grace)}
	return New(cfg.Path, append(base, opts...)...)
}

func (s *Store) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o640, &bolt.Options{Timeout: s.lockTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, errors.Join(session.ErrBackendIO, err)
	}
	return db, nil
}

func (s *Store) update(fn func(*bolt.Bucket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return fn(b)
	})
}

func (s *Store) view(fn func(*bolt.Bucket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return session.ErrSessionNotFound
		}
		return fn(b)
	})
}

func (s *Store) Load(_ context.Context, id string) (*session.Record, error) {
	var raw []byte
	err := s.view(func(b *bolt.Bucket) error {
		v := b.Get([]byte(id))
		if v == nil {
			return session.ErrSessionNotFound
		}
		// v is only valid inside the transaction.
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session.DecodeRecord(raw)
}

func (s *Store) Save(_ context.Context, id string, rec *session.Record) error {
	raw, err := session.EncodeRecord(rec)
	if err != nil {
		return err
	}
	return s.update(func(b *bolt.Bucket) error {
		return b.Put([]byte(id), raw)
	})
}

func (s *Store) Delete(_ context.Context, id string) error {
	return s.update(func(b *bolt.Bucket) error {
		return b.Delete([]byte(id))
	})
}

// Cleanup removes expired and undecodable records in one write transaction.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0
	err := s.update(func(b *bolt.Bucket) error {
		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := session.DecodeRecord(v)
			if err != nil {
				s.logger.WarnContext(ctx, "dropping corrupt session record",
					logger.Store("dbm"), logger.SessionID(string(k)), logger.Error(err))
				doomed = append(doomed, append([]byte(nil), k...))
				return nil
			}
			if rec.Expired(now, s.grace) {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.view(func(b *bolt.Bucket) error {
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}
