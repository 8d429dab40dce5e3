package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// EventType names a session lifecycle transition.
type EventType string

const (
	EventStarted           EventType = "started"
	EventConflict          EventType = "conflict"
	EventTransferRequested EventType = "transfer_requested"
	EventTransferred       EventType = "transferred"
	EventEnded             EventType = "ended"
	EventEndedAll          EventType = "ended_all"
	EventExpired           EventType = "expired"
)

// Event describes one committed change to an identity's record.
//
// DeviceID is the device the event is about: the owner for started and
// ended, the new owner for transferred, the requester for conflict.
// PeerDeviceID is the other side: the current owner on conflict, the
// previous owner on transferred.
type Event struct {
	Type         EventType
	Identity     string
	DeviceID     string
	PeerDeviceID string
	EndTime      time.Time
	At           time.Time
}

// Remaining is the session lifetime left when the event happened.
func (e Event) Remaining() time.Duration {
	if !e.At.Before(e.EndTime) {
		return 0
	}
	return e.EndTime.Sub(e.At)
}

type eventJSON struct {
	Type         EventType `json:"type"`
	Identity     string    `json:"identity"`
	DeviceID     string    `json:"device_id,omitempty"`
	PeerDeviceID string    `json:"peer_device_id,omitempty"`
	EndTime      int64     `json:"end_time,omitempty"`
	At           int64     `json:"at"`
}

// MarshalJSON encodes times as unix milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Type:         e.Type,
		Identity:     e.Identity,
		DeviceID:     e.DeviceID,
		PeerDeviceID: e.PeerDeviceID,
		At:           e.At.UnixMilli(),
	}
	if !e.EndTime.IsZero() {
		out.EndTime = e.EndTime.UnixMilli()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the MarshalJSON form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Event{
		Type:         in.Type,
		Identity:     in.Identity,
		DeviceID:     in.DeviceID,
		PeerDeviceID: in.PeerDeviceID,
		At:           time.UnixMilli(in.At).UTC(),
	}
	if in.EndTime != 0 {
		e.EndTime = time.UnixMilli(in.EndTime).UTC()
	}
	return nil
}

// Notifier receives committed session events.
//
// Implementations must not block for long; the Service calls them on the
// request path after the store write.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// MultiNotifier fans an event out to several notifiers.
// Every notifier is called even when an earlier one fails.
type MultiNotifier []Notifier

// NewMultiNotifier drops nil entries.
func NewMultiNotifier(notifiers ...Notifier) MultiNotifier {
	out := make(MultiNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Notify delivers ev to each notifier and joins their errors.
func (m MultiNotifier) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
