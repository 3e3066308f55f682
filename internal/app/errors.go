package app

import "errors"

var (
	ErrUnknownStore  = errors.New("app: unknown session store")
	ErrUnknownLocker = errors.New("app: unknown session locker")
	ErrNoLocations   = errors.New("app: no locations configured")
)
