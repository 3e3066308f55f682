package session

import "context"

// Store persists session records.
type Store interface {
	// Load returns the record for id or ErrSessionNotFound.
	Load(ctx context.Context, id string) (*Record, error)

	// Save writes rec under id, replacing any previous record atomically.
	Save(ctx context.Context, id string, rec *Record) error

	// Delete removes the record for id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Cleanup removes expired records and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)
}
