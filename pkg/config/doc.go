// Package config loads typed configuration for modserve components.
//
// Two sources are supported and can be combined:
//
//   - Process environment (optionally seeded from a `.env` file through
//     `github.com/joho/godotenv`), parsed into structs with
//     `github.com/caarlos0/env/v11` field tags.
//   - YAML files decoded with `gopkg.in/yaml.v3`, used for location
//     directives (handler lists, search paths, per-location options).
//
// Environment-only configs are cached per type so each component can call
// [Load] from its constructor without re-parsing:
//
//	type Config struct {
//	    Timeout time.Duration `env:"SESSION_TIMEOUT" envDefault:"30m"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// [LoadFile] parses the environment first (so `envDefault` values apply) and
// then decodes a YAML document on top of it. Keys present in the file win:
//
//	var srv ServerConfig
//	if err := config.LoadFile("modserve.yaml", &srv); err != nil {
//	    return err
//	}
//
// File-backed configs are never cached. [ResetCache] clears the type cache
// between tests.
package config
