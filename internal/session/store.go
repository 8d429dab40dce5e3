package session

import "context"

// MutateFunc computes the next state of a record.
//
// current is nil when the identity has no record. Returning nil leaves
// storage untouched. The function may run more than once when a store
// retries after losing a race, so it must not have side effects beyond
// the variables it captures, and it must reset those on every call.
// current is a private copy; the function may modify and return it.
type MutateFunc func(current *Record) *Record

// Store persists one Record per identity.
type Store interface {
	// Get returns the identity's record, or ErrRecordNotFound.
	Get(ctx context.Context, ownerID string) (*Record, error)

	// Update atomically applies fn to the identity's record and returns
	// the record as stored afterwards (nil if none exists). Concurrent
	// Updates for the same identity are serialised.
	Update(ctx context.Context, ownerID string, fn MutateFunc) (*Record, error)
}
