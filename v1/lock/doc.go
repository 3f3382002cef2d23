// Package lock provides lease-based distributed locks on top of a store.Store.
//
// A session acquires a named lease with a single conditional write, keeps it
// alive from a background heartbeat while the critical section runs, and
// deletes it once the section returns. Losing the lease is reported through
// the optional error callback and by cancelling the context handed to the
// critical section; the section is never interrupted, it decides on its own
// whether to stop.
//
// Crashed holders do not block others forever: their lease simply expires.
// Lock and unlock transitions can be propagated through an events.Bus so that
// Wait callers retry as soon as a lease is released.
package lock
