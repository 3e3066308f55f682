// Package redisstore keeps session records in Redis. Each record is one
// JSON string key whose TTL is the session timeout plus grace, so Redis
// expires most records on its own; Cleanup only removes keys that lost
// their TTL or hold undecodable data.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/modserve/pkg/session"
)

const DefaultPrefix = "modserve:session:"

// Config is the environment configuration of the store.
type Config struct {
	Prefix string        `env:"SESSION_REDIS_PREFIX" envDefault:"modserve:session:"`
	Grace  time.Duration `env:"SESSION_GRACE_PERIOD" envDefault:"4m"`
}

type Store struct {
	client redis.UniversalClient
	prefix string
	grace  time.Duration
	now    func() time.Time
	batch  int64
}

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

func WithGrace(d time.Duration) Option {
	return func(s *Store) { s.grace = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithScanBatch sets the COUNT hint for SCAN during Cleanup.
func WithScanBatch(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.batch = n
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		grace:  4 * time.Minute,
		now:    time.Now,
		batch:  100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func NewFromConfig(client redis.UniversalClient, cfg Config, opts ...Option) *Store {
	base := []Option{WithPrefix(cfg.Prefix), WithGrace(cfg.Grace)}
	return New(client, append(base, opts...)...)
}

func (s *Store) key(id string) string { return s.prefix + id }

func (s *Store) Load(ctx context.Context, id string) (*session.Record, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, session.ErrSessionNotFound
		}
		return nil, errors.Join(session.ErrBackendIO, err)
	}
	return session.DecodeRecord(raw)
}

func (s *Store) Save(ctx context.Context, id string, rec *session.Record) error {
	raw, err := session.EncodeRecord(rec)
	if err != nil {
		return err
	}
	ttl := rec.Accessed.Add(rec.TimeoutDuration() + s.grace).Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, id)
	}
	if err := s.client.Set(ctx, s.key(id), raw, ttl).Err(); err != nil {
		return errors.Join(session.ErrBackendIO, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return errors.Join(session.ErrBackendIO, err)
	}
	return nil
}

func (s *Store) Cleanup(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", s.batch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, errors.Join(session.ErrBackendIO, err)
		}
		rec, err := session.DecodeRecord(raw)
		if err == nil && !rec.Expired(now, s.grace) {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return removed, errors.Join(session.ErrBackendIO, err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, errors.Join(session.ErrBackendIO, err)
	}
	return removed, nil
}
