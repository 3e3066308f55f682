package dispatch

import "errors"

var (
	ErrNoResult        = errors.New("dispatch: handler returned no result")
	ErrHandlerNotFound = errors.New("dispatch: handler not found")
	ErrNoHandlers      = errors.New("dispatch: location has no handlers")
	ErrNoSessions      = errors.New("dispatch: sessions are not configured")
	ErrInvalidLocation = errors.New("dispatch: invalid location")
)
