// Package sqlstore keeps session records in a SQL table. SQLite (through
// modernc.org/sqlite) and PostgreSQL (through pgx's database/sql driver)
// are supported; the schema is created by embedded goose migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dmitrymomot/modserve/pkg/session"
)

var (
	ErrUnknownDialect = errors.New("sqlstore: unknown dialect")
	ErrMigration      = errors.New("sqlstore: migration failed")
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts the dialect names used in configuration.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDialect, s)
}

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) gooseName() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Config is the environment configuration of the store.
type Config struct {
	Dialect string        `env:"SESSION_SQL_DIALECT" envDefault:"sqlite"`
	DSN     string        `env:"SESSION_SQL_DSN" envDefault:"modserve_sessions.sqlite"`
	Grace   time.Duration `env:"SESSION_GRACE_PERIOD" envDefault:"4m"`
}

const (
	loadQuery = `SELECT data, created_at, accessed_at, timeout FROM sessions WHERE id = ?`
	saveQuery = `INSERT INTO sessions (id, data, created_at, accessed_at, timeout, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    data = excluded.data,
    accessed_at = excluded.accessed_at,
    timeout = excluded.timeout,
    expires_at = excluded.expires_at`
	deleteQuery  = `DELETE FROM sessions WHERE id = ?`
	cleanupQuery = `DELETE FROM sessions WHERE expires_at < ?`
	countQuery   = `SELECT COUNT(*) FROM sessions`
)

type Store struct {
	db      *sql.DB
	dialect Dialect
	grace   time.Duration
	now     func() time.Time
	logger  *slog.Logger
	owned   bool

	// SQLite allows one writer at a time.
	writeMu sync.Mutex
}

type Option func(*Store)

func WithGrace(d time.Duration) Option {
	return func(s *Store) { s.grace = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wraps an open database and applies migrations. The caller keeps
// ownership of db.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{
		db:      db,
		dialect: dialect,
		grace:   4 * time.Minute,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := Migrate(ctx, db, dialect, s.logger); err != nil {
		return nil, err
	}
	return s, nil
}

// Open connects with the dialect's driver and returns a store that closes
// the database on Close.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, errors.Join(session.ErrBackendIO, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Join(session.ErrBackendIO, err)
	}
	s, err := New(ctx, db, dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewFromConfig opens the store described by cfg.
func NewFromConfig(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	dialect, err := ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	return Open(ctx, dialect, cfg.DSN, append([]Option{WithGrace(cfg.Grace)}, opts...)...)
}

func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*session.Record, error) {
	var (
		data              string
		created, accessed int64
		timeout           int
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(loadQuery), id).
		Scan(&data, &created, &accessed, &timeout)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, errors.Join(session.ErrBackendIO, err)
	}

	rec, err := session.DecodeRecord([]byte(data))
	if err != nil {
		return nil, err
	}
	rec.Created = time.UnixMilli(created)
	rec.Accessed = time.UnixMilli(accessed)
	rec.Timeout = timeout
	return rec, nil
}

func (s *Store) Save(ctx context.Context, id string, rec *session.Record) error {
	raw, err := session.EncodeRecord(rec)
	if err != nil {
		return err
	}
	expires := rec.Accessed.Add(rec.TimeoutDuration())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(saveQuery),
		id, string(raw),
		rec.Created.UnixMilli(), rec.Accessed.UnixMilli(),
		rec.Timeout, expires.UnixMilli(),
	)
	if err != nil {
		return errors.Join(session.ErrBackendIO, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(deleteQuery), id); err != nil {
		return errors.Join(session.ErrBackendIO, err)
	}
	return nil
}

// Cleanup deletes rows whose expiry plus grace lies in the past.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.grace).UnixMilli()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(cleanupQuery), cutoff)
	if err != nil {
		return 0, errors.Join(session.ErrBackendIO, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Join(session.ErrBackendIO, err)
	}
	return int(n), nil
}

// Len returns the number of stored rows.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, countQuery).Scan(&n); err != nil {
		return 0, errors.Join(session.ErrBackendIO, err)
	}
	return n, nil
}
