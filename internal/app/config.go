package app

import (
	"time"

	"github.com/dmitrymomot/modserve/internal/backend"
	"github.com/dmitrymomot/modserve/pkg/cookie"
	"github.com/dmitrymomot/modserve/pkg/dispatch"
	"github.com/dmitrymomot/modserve/pkg/httpserver"
	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/luamod"
	"github.com/dmitrymomot/modserve/pkg/modcache"
	"github.com/dmitrymomot/modserve/pkg/session"
	"github.com/dmitrymomot/modserve/pkg/session/dbmstore"
	"github.com/dmitrymomot/modserve/pkg/session/fsstore"
	"github.com/dmitrymomot/modserve/pkg/session/mongostore"
	"github.com/dmitrymomot/modserve/pkg/session/redisstore"
	"github.com/dmitrymomot/modserve/pkg/session/sqlstore"
)

// Store kinds accepted in SESSION_STORE.
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreDBM    = "dbm"
	StoreFile   = "fs"
	StoreSQL    = "sql"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

// Locker kinds accepted in SESSION_LOCKER.
const (
	LockMemory = "memory"
	LockFile   = "file"
	LockRedis  = "redis"
)

// Config is everything the server reads from the environment. Nested
// configs keep the variable names of the packages they belong to.
type Config struct {
	Locations string `env:"MODSERVE_LOCATIONS" envDefault:"locations.yaml"`
	Metrics   bool   `env:"MODSERVE_METRICS" envDefault:"true"`

	Store         string        `env:"SESSION_STORE" envDefault:"memory"`
	Locker        string        `env:"SESSION_LOCKER" envDefault:"memory"`
	LockDir       string        `env:"SESSION_LOCK_DIR" envDefault:"/tmp/modserve_locks"`
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"0s"`

	Log      logger.Config
	HTTP     httpserver.Config
	Cache    modcache.Config
	Lua      luamod.Config
	Dispatch dispatch.Config
	Cookie   cookie.Config
	Session  session.Config

	DBM        dbmstore.Config
	FS         fsstore.Config
	SQL        sqlstore.Config
	RedisStore redisstore.Config
	MongoStore mongostore.Config

	SQLite   backend.SQLiteConfig
	Postgres backend.PostgresConfig
	Redis    backend.RedisConfig
	Mongo    backend.MongoConfig
}
