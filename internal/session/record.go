package session

import "time"

// Record is the persisted session state of one identity.
//
// The row is reused across sessions and never deleted. Times are stored
// with millisecond precision.
type Record struct {
	OwnerID   string
	DeviceID  string
	StartTime time.Time
	EndTime   time.Time
	Active    bool

	// TransferRequested is set while a second device waits for the owner
	// to hand over; TransferRequestedByDeviceID names that device.
	TransferRequested           bool
	TransferRequestedByDeviceID string

	// TransferredFromDeviceID is the previous owner after a Transfer.
	TransferredFromDeviceID string

	// Version increments on every write. Stores use it for compare-and-set.
	Version   int64
	UpdatedAt time.Time
}

// Live reports whether the record grants ownership at now.
func (r *Record) Live(now time.Time) bool {
	return r != nil && r.Active && now.Before(r.EndTime)
}

// Remaining returns the lifetime left at now, never negative.
func (r *Record) Remaining(now time.Time) time.Duration {
	if r == nil || !now.Before(r.EndTime) {
		return 0
	}
	return r.EndTime.Sub(now)
}

// Clone returns a copy safe to mutate.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func (r *Record) clearTransfer() {
	r.TransferRequested = false
	r.TransferRequestedByDeviceID = ""
}

// StartResult is returned by a successful Start.
type StartResult struct {
	EndTime time.Time
}

// TransferResult is returned by a successful Transfer. EndTime is the
// unchanged expiry of the session that moved.
type TransferResult struct {
	EndTime time.Time
}

// CheckResult describes a device's view of the identity's session.
//
// Exactly one shape is populated:
//   - Active: this device owns the session (optionally with a pending
//     transfer request from TransferRequestedByDeviceID)
//   - Expired: the session ran out
//   - TransferRequested without Active: this device is waiting for the
//     owner (ExistingDeviceID) to approve
//   - TransferAvailable: another device owns a live session
//   - none of the above: no session
type CheckResult struct {
	Active    bool
	Expired   bool
	DeviceID  string
	EndTime   time.Time
	Remaining time.Duration

	TransferRequested           bool
	TransferRequestedByDeviceID string
	TransferAvailable           bool

	ExistingDeviceID string
	ExistingEndTime  time.Time
}
