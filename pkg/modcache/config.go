package modcache

// Config is the environment configuration of the cache.
type Config struct {
	AutoReload    bool     `env:"MODCACHE_AUTORELOAD" envDefault:"true"`
	ImportLog     bool     `env:"MODCACHE_IMPORT_LOG" envDefault:"false"`
	SearchPath    []string `env:"MODCACHE_SEARCH_PATH" envSeparator:":"`
	Freeze        bool     `env:"MODCACHE_FREEZE" envDefault:"false"`
	NameCacheSize int      `env:"MODCACHE_NAME_CACHE_SIZE" envDefault:"512"`
	// WatchDirs are watched for changes when the server starts.
	WatchDirs []string `env:"MODCACHE_WATCH" envSeparator:":"`
}

func DefaultConfig() Config {
	return Config{AutoReload: true, NameCacheSize: 512}
}
