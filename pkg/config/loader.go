package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// typeCache stores one parsed copy per config type.
type typeCache struct {
	mu     sync.RWMutex
	values map[string]any
	onces  map[string]*sync.Once
}

var (
	cache = &typeCache{
		values: make(map[string]any),
		onces:  make(map[string]*sync.Once),
	}

	dotenvOnce sync.Once
)

func loadDotenv() {
	dotenvOnce.Do(func() {
		// The .env file is optional.
		_ = godotenv.Load()
	})
}

// Load parses environment variables into v. Each config type is parsed once
// per process; later calls copy the cached value.
func Load[T any](v *T) error {
	loadDotenv()
	if v == nil {
		return ErrNilPointer
	}

	key := typeKey[T]()

	if cached, ok := cache.get(key); ok {
		*v = cached.(T)
		return nil
	}

	cache.mu.Lock()
	once, ok := cache.onces[key]
	if !ok {
		once = new(sync.Once)
		cache.onces[key] = once
	}
	cache.mu.Unlock()

	var err error
	once.Do(func() {
		if perr := env.Parse(v); perr != nil {
			err = errors.Join(ErrParsingConfig, perr)
			// Allow a retry once the environment is fixed.
			cache.mu.Lock()
			delete(cache.onces, key)
			cache.mu.Unlock()
			return
		}
		cache.mu.Lock()
		cache.values[key] = *v
		cache.mu.Unlock()
	})
	if err != nil {
		return err
	}

	if cached, ok := cache.get(key); ok {
		*v = cached.(T)
		return nil
	}
	return ErrConfigNotLoaded
}

// MustLoad is like Load but panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// ResetCache drops every cached config type.
func ResetCache() {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.values = make(map[string]any)
	cache.onces = make(map[string]*sync.Once)
}

func (c *typeCache) get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func typeKey[T any]() string {
	t := reflect.TypeFor[T]()
	return t.PkgPath() + "." + t.String()
}
