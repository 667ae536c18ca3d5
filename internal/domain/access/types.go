// Package access contains the authorization gate: the state machine that
// folds identity, profile, static catalog and granular permission layers
// into a single access decision per navigation or request.
package access

import (
	"github.com/repclub/gymgate/internal/domain/policy"
)

// Profile is the per-identity business record resolved after sign-in.
type Profile struct {
	// IdentityID links the profile to the authenticated identity.
	IdentityID string `json:"identity_id"`
	// Role is the member's role within the organization.
	Role policy.Role `json:"role"`
	// OrganizationID is the tenant (gym) the profile belongs to.
	OrganizationID string `json:"organization_id,omitempty"`
	// DisplayName is shown on denial screens.
	DisplayName string `json:"display_name,omitempty"`
}

// MFAStatus reports whether the current session passed a second factor.
type MFAStatus struct {
	Verified bool `json:"verified"`
}

// Request is constructed per access attempt and never persisted.
// Zero values mean "not specified" and pass their check.
type Request struct {
	// Route is the route or action name being attempted.
	Route string `json:"route"`
	// Capability must be allowed for the profile role by the catalog.
	Capability policy.Capability `json:"capability,omitempty"`
	// Roles, when non-empty, must contain the profile role.
	Roles []policy.Role `json:"roles,omitempty"`
	// MinimumRoleLevel, when positive, is compared against the role ordinal.
	MinimumRoleLevel int `json:"minimum_role_level,omitempty"`
	// GranularKey is checked against the permission oracle.
	GranularKey string `json:"granular_key,omitempty"`
	// RequireMFA forces a verified second factor.
	RequireMFA bool `json:"require_mfa,omitempty"`
}

// Outcome enumerates the possible access decisions.
type Outcome int

const (
	// OutcomePending means identity or profile data is still loading.
	OutcomePending Outcome = iota
	// OutcomeUnauthenticated means there is no session.
	OutcomeUnauthenticated
	// OutcomeProfileError means the profile could not be resolved.
	OutcomeProfileError
	// OutcomeDenied means one or more authorization layers failed.
	OutcomeDenied
	// OutcomeMFARequired means a second factor must be verified first.
	OutcomeMFARequired
	// OutcomeAllowed means every layer passed.
	OutcomeAllowed
)

var outcomeNames = [...]string{
	OutcomePending:         "pending",
	OutcomeUnauthenticated: "unauthenticated",
	OutcomeProfileError:    "profile_error",
	OutcomeDenied:          "denied",
	OutcomeMFARequired:     "mfa_required",
	OutcomeAllowed:         "allowed",
}

// String returns the snake_case name used in JSON, logs and metrics labels.
func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Terminal reports whether the outcome ends an attempt. Pending is the only
// non-terminal outcome; it is re-evaluated once data resolves.
func (o Outcome) Terminal() bool {
	return o != OutcomePending
}

// Recovery names an action the caller can offer the user.
type Recovery string

// Recovery actions offered with non-allowed decisions.
const (
	RecoveryRetryProfile Recovery = "retry_profile"
	RecoverySignOut      Recovery = "sign_out"
	RecoveryStepUpMFA    Recovery = "step_up_mfa"
)

// Decision is the output of Gate.Evaluate. It is consumed once; the only
// durable trace is the audit event derived from it.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	// RedirectTarget is set for Unauthenticated: the login entry point
	// carrying the sanitized return path.
	RedirectTarget string `json:"redirect_target,omitempty"`
	// ReturnPath is the sanitized path embedded in RedirectTarget.
	ReturnPath string `json:"return_path,omitempty"`
	// Message is set for ProfileError.
	Message string `json:"message,omitempty"`
	// Reasons lists every failed layer for Denied, in evaluation order.
	Reasons []string `json:"reasons,omitempty"`
	// Role is the caller's role display name, set once a profile is known.
	Role string `json:"role,omitempty"`
	// Recovery lists actions the caller may present.
	Recovery []Recovery `json:"recovery,omitempty"`
}

// Terminal reports whether the decision ends the attempt.
func (d Decision) Terminal() bool {
	return d.Outcome.Terminal()
}

// Allowed reports whether access was granted.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllowed
}
