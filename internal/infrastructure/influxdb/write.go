package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementSessionEvents is the measurement session lifecycle events go to.
const MeasurementSessionEvents = "session_events"

// SessionEvent is one row of session history.
type SessionEvent struct {
	Identity  string
	Type      string // started, conflict, transferred, ended, ...
	DeviceID  string
	Remaining time.Duration
	At        time.Time
}

// WriteSessionEvent records a session lifecycle event.
//
// Identity and event type are tags; the device and remaining lifetime are
// fields, since device IDs are high-cardinality.
func (c *Client) WriteSessionEvent(ev SessionEvent) {
	fields := map[string]any{
		"device_id":    ev.DeviceID,
		"remaining_ms": ev.Remaining.Milliseconds(),
		"count":        1,
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	c.WritePointWithTime(MeasurementSessionEvents,
		map[string]string{
			"identity": ev.Identity,
			"event":    ev.Type,
		},
		fields,
		at,
	)
}

// WritePoint writes a custom point stamped with the current time.
//
// Example:
//
//	client.WritePoint("session_store",
//	    map[string]string{"driver": "sqlite"},
//	    map[string]any{"cas_retries": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
// Points are dropped silently once the client is closed.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
