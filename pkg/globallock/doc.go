// Package globallock provides mutual exclusion keyed by a server identity and
// a token, such as a session id.
//
// Three lockers share the [Locker] interface:
//
//   - [Memory] serializes goroutines of one process.
//   - [File] adds an flock(2) lock file per key so several processes sharing a
//     directory exclude each other.
//   - [Redis] uses SET NX with a random token and a compare-and-delete unlock,
//     for processes on different hosts.
//
// Every Lock call blocks until the lock is held or the context is done. The
// returned [UnlockFunc] is safe to call more than once; only the first call
// releases.
package globallock
