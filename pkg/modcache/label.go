package modcache

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
)

const labelPrefix = "_mod_"

// Label returns the module label for path. Paths are made absolute and
// cleaned first, so equivalent spellings share a label.
func Label(path string) string {
	return labelFor(normalize(path))
}

func labelFor(clean string) string {
	sum := md5.Sum([]byte(clean))
	return labelPrefix + hex.EncodeToString(sum[:])
}

func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
