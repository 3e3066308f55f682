package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/modserve/internal/backend"
	"github.com/dmitrymomot/modserve/pkg/globallock"
	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/session"
	"github.com/dmitrymomot/modserve/pkg/session/dbmstore"
	"github.com/dmitrymomot/modserve/pkg/session/fsstore"
	"github.com/dmitrymomot/modserve/pkg/session/mongostore"
	"github.com/dmitrymomot/modserve/pkg/session/redisstore"
	"github.com/dmitrymomot/modserve/pkg/session/sqlstore"
)

// Backends holds the session store, the session locker and whatever
// connections they run on. Close releases all of them.
type Backends struct {
	Store  session.Store
	Locker globallock.Locker
	Checks backend.Checks

	redis   *redis.Client
	closers []func() error
}

func (b *Backends) onClose(fn func() error) { b.closers = append(b.closers, fn) }

// Close releases resources in reverse order of acquisition.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// OpenBackends connects the store and locker selected in cfg. A store kind
// of "none" leaves Store nil, which turns sessions off.
func OpenBackends(ctx context.Context, cfg Config, log *slog.Logger) (*Backends, error) {
	b := &Backends{Checks: backend.Checks{}}
	store, err := b.openStore(ctx, cfg, log)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.Store = store

	locker, err := b.openLocker(ctx, cfg)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.Locker = locker
	return b, nil
}

func (b *Backends) openStore(ctx context.Context, cfg Config, log *slog.Logger) (session.Store, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Store))
	log = log.With(logger.Store(kind))

	switch kind {
	case StoreNone, "":
		return nil, nil

	case StoreMemory:
		s := session.NewMemoryStore(time.Minute)
		b.onClose(s.Close)
		return s, nil

	case StoreDBM:
		return dbmstore.NewFromConfig(cfg.DBM, dbmstore.WithLogger(log))

	case StoreFile:
		return fsstore.NewFromConfig(cfg.FS, fsstore.WithLogger(log))

	case StoreSQL:
		return b.openSQLStore(ctx, cfg, log)

	case StoreRedis:
		client, err := b.redisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return redisstore.NewFromConfig(client, cfg.RedisStore), nil

	case StoreMongo:
		client, err := backend.ConnectMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		b.onClose(func() error { return client.Disconnect(context.Background()) })
		b.Checks["mongo"] = backend.MongoHealth(client)
		return mongostore.NewFromConfig(ctx, client, cfg.MongoStore)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStore, cfg.Store)
}

func (b *Backends) openSQLStore(ctx context.Context, cfg Config, log *slog.Logger) (session.Store, error) {
	dialect, err := sqlstore.ParseDialect(cfg.SQL.Dialect)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch dialect {
	case sqlstore.Postgres:
		pgCfg := cfg.Postgres
		if pgCfg.ConnectionString == "" {
			pgCfg.ConnectionString = cfg.SQL.DSN
		}
		pool, err := backend.ConnectPostgres(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		b.onClose(func() error { pool.Close(); return nil })
		b.Checks["postgres"] = backend.PostgresHealth(pool)
		db = backend.PostgresDB(pool)
	default:
		liteCfg := cfg.SQLite
		if cfg.SQL.DSN != "" {
			liteCfg.Path = cfg.SQL.DSN
		}
		db, err = backend.OpenSQLite(ctx, liteCfg)
		if err != nil {
			return nil, err
		}
		b.Checks["sqlite"] = backend.SQLHealth(db)
	}
	b.onClose(db.Close)

	return sqlstore.New(ctx, db, dialect, sqlstore.WithGrace(cfg.SQL.Grace), sqlstore.WithLogger(log))
}

func (b *Backends) redisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	client, err := backend.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	b.redis = client
	b.onClose(client.Close)
	b.Checks["redis"] = backend.RedisHealth(client)
	return client, nil
}

func (b *Backends) openLocker(ctx context.Context, cfg Config) (globallock.Locker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Locker)) {
	case LockMemory, "":
		return globallock.NewMemory(), nil
	case LockFile:
		return globallock.NewFile(cfg.LockDir, 0)
	case LockRedis:
		client, err := b.redisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return globallock.NewRedis(client), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLocker, cfg.Locker)
}
