package policy

import "time"

// EvaluationContext carries the inputs available to rule expressions that
// decide granular permissions and route MFA requirements.
type EvaluationContext struct {
	// IdentityID is the authenticated identity.
	IdentityID string
	// OrganizationID is the tenant the profile belongs to.
	OrganizationID string
	// Role is the profile role.
	Role Role
	// Key is the granular permission key being checked (empty for MFA rules).
	Key string
	// Route is the route or action being evaluated.
	Route string
	// RequestTime is when the evaluation started.
	RequestTime time.Time
}
