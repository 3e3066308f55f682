// Package session implements per-client session state for modserve handlers.
//
// A [Manager] opens sessions for requests. Opening reads the session cookie
// (optionally signed), locks the session id for the duration of the request,
// loads the persisted [Record] from a [Store] and either resumes it or issues
// a fresh id with a new cookie. The lock is released automatically when the
// hosting request runs its cleanups, or earlier through [Session.Unlock].
//
// Session ids are 32 lowercase hex characters. [ValidateID] is applied to
// every id before it is used as a store key or path component; invalid ids
// from cookies are dropped silently, invalid explicit ids fail with
// [ErrInvalidSessionID].
//
// Stores persist whole records and sweep expired ones on [Store.Cleanup].
// [MemoryStore] lives in this package; file, key-value, SQL, redis and mongo
// stores live in subpackages. Once in every thousand opens (by default) the
// manager schedules an asynchronous sweep after the request completes.
//
// Persistence is explicit: handlers call [Session.Save]. A session that was
// invalidated ignores later saves.
package session
