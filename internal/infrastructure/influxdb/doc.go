// Package influxdb records session history in InfluxDB.
//
// Every lifecycle event (start, conflict, transfer, end, expiry) becomes a
// point in the session_events measurement, tagged by identity and event
// type. Operators use it to answer "who was elevated, from where, and for
// how long" over longer windows than the audit table is kept for.
//
// The integration is optional. Connect returns ErrDisabled when
// influxdb.enabled is false.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without history
//	}
//	client.WriteSessionEvent(influxdb.SessionEvent{Identity: "alice", Type: "started"})
package influxdb
