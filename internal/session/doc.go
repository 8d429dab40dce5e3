// Package session owns elevated-session ownership for Elevate.
//
// An identity holds at most one Record. The Record says which device
// currently owns the elevated session, when it expires, and whether a
// second device has asked to take it over. Service is the only writer:
// every handler is a single atomic read-modify-write through Store, so a
// record can never name two live owners at once.
//
// Lifecycle:
//
//	(none) --Start--> owned(d1)
//	owned(d1) --Start from d2--> owned(d1, pending d2)   (Conflict returned to d2)
//	owned(d1, pending d2) --Transfer(d2)--> owned(d2)    (end time unchanged)
//	owned(d) --End / EndAll / expiry--> inactive
//
// Expiry is evaluated against the injected clock on every read. A record
// whose end time has passed is treated as inactive whatever its stored
// flag says; Check writes active=false the first time it notices.
//
// Storage backends:
//   - SQLiteStore: optimistic compare-and-set on a version column
//   - PostgresStore: SELECT ... FOR UPDATE inside one transaction
//   - MemoryStore: mutex-guarded map for tests and single-process use
//
// Every successful mutation produces an Event. Events fan out through a
// Notifier (MQTT, InfluxDB, audit, WebSocket push, Prometheus); notifier
// failures are logged and never fail the request.
package session
