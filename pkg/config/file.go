package config

import (
	"errors"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// LoadFile fills v from the environment and then from the YAML file at path.
// Keys present in the file take precedence over environment values and
// defaults. The result is not cached.
func LoadFile[T any](path string, v *T) error {
	loadDotenv()
	if v == nil {
		return ErrNilPointer
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Join(ErrReadingFile, err)
	}
	if err := yaml.Unmarshal(raw, v); err != nil {
		return errors.Join(ErrDecodingFile, err)
	}
	return nil
}

// Decode unmarshals an in-memory YAML document into v without touching the
// environment.
func Decode[T any](data []byte, v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errors.Join(ErrDecodingFile, err)
	}
	return nil
}
