// Package api implements the HTTP REST API and WebSocket push server for
// Elevate.
//
// This package provides:
//   - Session endpoints (start, check, end, end-all, transfer, record)
//   - JWT login and ticket-based WebSocket auth
//   - WebSocket hub pushing each identity's session events to its devices
//   - Admin endpoints for accounts and the audit trail
//   - Middleware stack (request ID, logging, recovery, CORS, metrics)
//   - Prometheus scrape endpoint
//
// # Security
//
// Every session endpoint needs a bearer access token; the token's
// username is the session identity. Privilege changes additionally carry
// the elevation credential in the request body, which is verified by the
// session service and never logged. WebSocket connections use single-use
// tickets to keep tokens out of URLs.
//
// # Errors
//
// Errors use the body {status, code, message}. A conflicting start answers
// 409 with the owning device and its expiry; an operation that needs a live
// session answers 412 with code "no_active_session".
package api
