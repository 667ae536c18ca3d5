// Package audit contains domain types for the append-only record of
// authentication and authorization outcomes.
package audit

import (
	"strings"
	"time"
)

// Kind categorizes an audit event.
type Kind string

// Event kinds.
const (
	// KindAccessDecision records a terminal gate decision for a route.
	KindAccessDecision Kind = "access.decision"
	// KindRateLimited records a sensitive action refused by its throttle.
	KindRateLimited Kind = "throttle.rate_limited"
	// KindLoginFailed records a failed sign-in attempt.
	KindLoginFailed Kind = "login.failed"
	// KindLoginLocked records an identifier entering lockout.
	KindLoginLocked Kind = "login.locked"
	// KindLoginSucceeded records a verified sign-in that cleared failures.
	KindLoginSucceeded Kind = "login.succeeded"
	// KindMFAVerified records a completed second-factor step-up.
	KindMFAVerified Kind = "mfa.verified"
	// KindSessionEnded records a sign-out.
	KindSessionEnded Kind = "session.ended"
)

// Outcome values recorded on events.
const (
	OutcomeAllowed         = "allowed"
	OutcomeDenied          = "denied"
	OutcomeMFARequired     = "mfa_required"
	OutcomeProfileError    = "profile_error"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeRateLimited     = "rate_limited"
	OutcomeLockedOut       = "locked_out"
	OutcomeFailed          = "failed"
	OutcomeSucceeded       = "succeeded"
)

// Event is a single audit record. Events are appended and never updated
// or deleted.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`
	// Kind categorizes the event.
	Kind Kind `json:"kind"`
	// ActorID is the identity that caused the event, empty when anonymous.
	ActorID string `json:"actor_id,omitempty"`
	// OrganizationID is the actor's tenant, empty when unknown.
	OrganizationID string `json:"organization_id,omitempty"`
	// Subject is what the event is about: a route, action or login identifier.
	Subject string `json:"subject"`
	// Outcome is the result, one of the Outcome* constants.
	Outcome string `json:"outcome"`
	// Metadata carries event-specific detail such as denial reasons.
	Metadata map[string]any `json:"metadata,omitempty"`
	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// sensitiveKeywords lists substrings that mark a metadata key as sensitive.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "otp", "private_key", "privatekey",
}

// Redacted replaces sensitive metadata values.
const Redacted = "***REDACTED***"

// RedactMetadata returns a copy of metadata with sensitive values masked.
// A key is sensitive if it contains any of sensitiveKeywords.
func RedactMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return metadata
	}
	redacted := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if isSensitiveKey(k) {
			redacted[k] = Redacted
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
