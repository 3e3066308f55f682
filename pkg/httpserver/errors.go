package httpserver

import "errors"

var (
	ErrStart    = errors.New("httpserver: failed to start")
	ErrShutdown = errors.New("httpserver: graceful shutdown failed")
	ErrTask     = errors.New("httpserver: background task failed")
	ErrRunning  = errors.New("httpserver: already running")
)
