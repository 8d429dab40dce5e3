package agent

import (
	"context"
	"errors"
	"time"
)

// State is the agent's local view of its session.
type State int

const (
	// StateIdle: this device holds no session.
	StateIdle State = iota

	// StateActive: this device owns the elevated session.
	StateActive

	// StatePending: this device asked for the session and waits for the
	// owner to hand it over.
	StatePending
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePending:
		return "pending"
	default:
		return "idle"
	}
}

// RevokeReason says why local elevated state was dropped.
type RevokeReason string

const (
	ReasonEnded         RevokeReason = "ended"
	ReasonEndedAll      RevokeReason = "ended_all"
	ReasonEndedRemotely RevokeReason = "ended_remotely"
	ReasonTransferred   RevokeReason = "transferred"
	ReasonSuperseded    RevokeReason = "superseded"
	ReasonConflict      RevokeReason = "conflict"
	ReasonGraceElapsed  RevokeReason = "grace_elapsed"
)

// TransferOffer describes a session another device owns.
type TransferOffer struct {
	ExistingDeviceID string
	ExistingEndTime  time.Time
}

func (o TransferOffer) equal(other TransferOffer) bool {
	return o.ExistingDeviceID == other.ExistingDeviceID && o.ExistingEndTime.Equal(other.ExistingEndTime)
}

// Observer receives agent state changes. Calls come from the agent's
// loop goroutine, one at a time, and must return quickly.
type Observer interface {
	// OnActive is called when this device gains the session and again
	// whenever the end time is resynchronised from the server.
	OnActive(endTime time.Time)

	// OnTick reports the remaining lifetime on every countdown tick.
	OnTick(remaining time.Duration)

	// OnExpired is called when the session runs out.
	OnExpired()

	// OnRevoked is called when local elevated or pending state is dropped
	// for any reason other than expiry.
	OnRevoked(reason RevokeReason)

	// OnTransferOffer is called when another device holds a live session
	// that this device may take with AcceptTransfer.
	OnTransferOffer(offer TransferOffer)

	// OnTransferPending is called when this device starts waiting for the
	// owner to approve a handover.
	OnTransferPending(offer TransferOffer)

	// OnTransferRequested is called on the owning device when another
	// device asks for the session.
	OnTransferRequested(requesterDeviceID string)

	// OnError reports a background failure. The agent carries on.
	OnError(op string, err error)
}

// ObserverFuncs adapts optional functions to Observer. Nil fields are
// ignored.
type ObserverFuncs struct {
	Active            func(endTime time.Time)
	Tick              func(remaining time.Duration)
	Expired           func()
	Revoked           func(reason RevokeReason)
	TransferOffer     func(offer TransferOffer)
	TransferPending   func(offer TransferOffer)
	TransferRequested func(requesterDeviceID string)
	Error             func(op string, err error)
}

func (f ObserverFuncs) OnActive(endTime time.Time) {
	if f.Active != nil {
		f.Active(endTime)
	}
}

func (f ObserverFuncs) OnTick(remaining time.Duration) {
	if f.Tick != nil {
		f.Tick(remaining)
	}
}

func (f ObserverFuncs) OnExpired() {
	if f.Expired != nil {
		f.Expired()
	}
}

func (f ObserverFuncs) OnRevoked(reason RevokeReason) {
	if f.Revoked != nil {
		f.Revoked(reason)
	}
}

func (f ObserverFuncs) OnTransferOffer(offer TransferOffer) {
	if f.TransferOffer != nil {
		f.TransferOffer(offer)
	}
}

func (f ObserverFuncs) OnTransferPending(offer TransferOffer) {
	if f.TransferPending != nil {
		f.TransferPending(offer)
	}
}

func (f ObserverFuncs) OnTransferRequested(requesterDeviceID string) {
	if f.TransferRequested != nil {
		f.TransferRequested(requesterDeviceID)
	}
}

func (f ObserverFuncs) OnError(op string, err error) {
	if f.Error != nil {
		f.Error(op, err)
	}
}

// ErrPromptDeclined is returned by a CredentialPrompter when the user
// refuses. The agent does not ask again for the same requester.
var ErrPromptDeclined = errors.New("prompt declined")

// CredentialPrompter asks the owner to re-authenticate before handing the
// session to another device.
type CredentialPrompter interface {
	PromptCredential(ctx context.Context, reason string) (string, error)
}

// PrompterFunc adapts a function to CredentialPrompter.
type PrompterFunc func(ctx context.Context, reason string) (string, error)

// PromptCredential calls f.
func (f PrompterFunc) PromptCredential(ctx context.Context, reason string) (string, error) {
	return f(ctx, reason)
}
