package session

import "errors"

var (
	// ErrInvalidSessionID is returned when an explicitly supplied id is malformed.
	ErrInvalidSessionID = errors.New("session.invalid_id")

	// ErrSessionNotFound is returned by stores when no record exists for an id.
	ErrSessionNotFound = errors.New("session.not_found")

	// ErrBackendIO wraps store failures surfaced to callers.
	ErrBackendIO = errors.New("session.backend_io")

	// ErrCorruptRecord is returned by stores that cannot decode a persisted record.
	ErrCorruptRecord = errors.New("session.corrupt_record")

	// ErrNoStore indicates the manager was built without a store.
	ErrNoStore = errors.New("session.no_store")

	// ErrInvalidated is returned when locking a session after Invalidate.
	ErrInvalidated = errors.New("session.invalidated")
)
