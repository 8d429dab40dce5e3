package session

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. Transports map these to status codes.
var (
	// ErrUnauthenticated means no verified identity accompanied the call.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidArgument means a required credential or device ID is missing.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermissionDenied means the credential was wrong or the identity
	// lacks the elevation role.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrFailedPrecondition means the record is not in a state that allows
	// the operation.
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrNoActiveSession is returned by End and Transfer when nothing is live.
	ErrNoActiveSession = fmt.Errorf("%w: no active session", ErrFailedPrecondition)
)

// Store errors.
var (
	// ErrRecordNotFound is returned by Store.Get for an identity with no record.
	ErrRecordNotFound = errors.New("session record not found")

	// ErrConcurrentUpdate is returned when compare-and-set retries run out.
	ErrConcurrentUpdate = errors.New("session record updated concurrently")
)

// ConflictError is returned by Start when another device owns a live
// session. The owner has been flagged with a transfer request from the
// caller.
type ConflictError struct {
	ExistingDeviceID string
	ExistingEndTime  time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session active on device %s until %s",
		e.ExistingDeviceID, e.ExistingEndTime.UTC().Format(time.RFC3339))
}

// Unwrap makes a conflict match ErrFailedPrecondition.
func (e *ConflictError) Unwrap() error {
	return ErrFailedPrecondition
}
