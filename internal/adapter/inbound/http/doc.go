// Package http is the inbound HTTP adapter for gymgate.
//
// It exposes the authorization gate, the sensitive-action throttles and
// the audit log as a small JSON API, plus /health and /metrics.
//
// # Endpoints
//
//	POST /v1/access/evaluate     - evaluate a route against the caller's profile
//	GET  /v1/catalog             - list capabilities and the roles holding them
//	POST /v1/profile/retry       - refetch the caller's profile
//	POST /v1/session/end         - sign out, forgetting audit de-duplication state
//	POST /v1/mfa/verify          - record a completed second-factor step-up
//	POST /v1/throttle/{action}   - consume one attempt of a sensitive action
//	GET  /v1/throttle/{action}   - report an action's window without consuming
//	POST /v1/login/failure       - count a failed login, 423 once locked
//	POST /v1/login/success       - clear the caller's own login failures
//	GET  /v1/login/status        - report an identifier's lockout state
//	GET  /v1/audit               - query audit events (view_audit_log)
//
// # Request Headers
//
//	Authorization: Bearer <api-key>  - identifies the caller; optional
//	X-Request-ID: <id>               - echoed back, generated when absent
//
// # Middleware Chain
//
// API requests pass through middleware in this order:
//
//  1. MetricsMiddleware - records duration and status
//  2. RequestIDMiddleware - request ID and enriched logger
//  3. RealIPMiddleware - client IP from proxy headers
//  4. IPRateLimiter - per-client token bucket
//  5. AuthenticationMiddleware - API key to identity
//
// Refused throttles answer 429 with Retry-After; locked logins answer 423.
package http
