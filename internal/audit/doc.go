// Package audit records who did what to which session or account.
//
// Entries land in the audit_logs table. Writers never block on the
// database: Recorder queues entries on a bounded channel that a single
// goroutine drains serially, and drops entries (with a warning) when the
// queue is full. Recorder also implements session.Notifier, so every
// committed session transition leaves a trail.
package audit
