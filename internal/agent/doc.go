// Package agent is the client side of Elevate sessions.
//
// One Agent runs per device. It owns the device identifier, talks to the
// session service through a SessionAPI, keeps a local countdown anchored
// to the server's end time, and walks the device through the transfer
// handshake when another device of the same identity holds the session.
//
// All state lives in a single event loop (Agent.Run). Timers, commands
// and network results are all delivered to that loop, so no field needs a
// lock. Network calls run on their own goroutines and post their outcome
// back tagged with the loop's epoch; the epoch moves on every teardown and
// outcomes from an older epoch are dropped. This keeps a reply that
// arrives after the session ended from resurrecting it.
//
// Timers:
//   - check: always running, asks the server for this device's view
//   - fast poll: only while waiting for another device to hand over
//   - drift: while active, resynchronises the local end time
//   - tick: while active, drives the countdown shown to the user
//   - grace: after a conflicting start, bounds how long the offer stands
//
// Push (WebSocket or MQTT) only wakes the check loop early; every state
// change still comes from a Check result.
package agent
