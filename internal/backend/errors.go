package backend

import "errors"

var (
	ErrParseConfig       = errors.New("backend: invalid connection configuration")
	ErrNotReady          = errors.New("backend: service did not become ready")
	ErrHealthcheckFailed = errors.New("backend: healthcheck failed")
	ErrEmptyDSN          = errors.New("backend: empty connection string")
)
