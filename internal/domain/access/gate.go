package access

import (
	"fmt"
	"strings"

	"github.com/repclub/gymgate/internal/domain/policy"
)

// Gate evaluates access requests against a snapshot of identity, profile
// and oracle state. It holds no mutable state and is safe for concurrent use.
type Gate struct {
	catalog     *policy.Catalog
	loginPath   string
	defaultPath string
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLoginPath sets the authentication entry point used in redirects.
func WithLoginPath(path string) GateOption {
	return func(g *Gate) {
		if path != "" {
			g.loginPath = path
		}
	}
}

// WithDefaultReturnPath sets the path substituted for unsafe return paths.
func WithDefaultReturnPath(path string) GateOption {
	return func(g *Gate) {
		if path != "" {
			g.defaultPath = path
		}
	}
}

// NewGate creates a gate over catalog. A nil catalog uses the default one.
func NewGate(catalog *policy.Catalog, opts ...GateOption) *Gate {
	if catalog == nil {
		catalog = policy.DefaultCatalog()
	}
	g := &Gate{
		catalog:     catalog,
		loginPath:   DefaultLoginPath,
		defaultPath: DefaultReturnPath,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Catalog returns the catalog the gate checks capabilities against.
func (g *Gate) Catalog() *policy.Catalog {
	return g.catalog
}

// Evaluate returns the access decision for req against snap.
//
// Stages run in a fixed order: identity, profile error, profile pending,
// layered checks, MFA. The layered checks are all evaluated so every failed
// layer is reported. MFA is decided separately and takes precedence over
// Denied because it needs a different remedy.
//
// Evaluate panics if req names a capability the catalog does not define.
func (g *Gate) Evaluate(req Request, snap Snapshot) Decision {
	if snap.Identity == nil {
		if snap.SessionLoading {
			return Decision{Outcome: OutcomePending}
		}
		target, returnPath := LoginRedirect(g.loginPath, req.Route, g.defaultPath)
		return Decision{
			Outcome:        OutcomeUnauthenticated,
			RedirectTarget: target,
			ReturnPath:     returnPath,
		}
	}

	if snap.ProfileError != "" {
		return profileError(snap.ProfileError)
	}

	profile := snap.Profile
	if profile == nil {
		return Decision{Outcome: OutcomePending}
	}
	// A profile left over from a previous identity is stale.
	if profile.IdentityID != "" && profile.IdentityID != snap.Identity.ID {
		return Decision{Outcome: OutcomePending}
	}
	if !profile.Role.IsValid() {
		return profileError(fmt.Sprintf("profile has an unrecognized role (%d)", int(profile.Role)))
	}

	reasons := g.layeredReasons(req, profile.Role, snap.Oracle)

	mfaRequired := req.RequireMFA
	mfaVerified := false
	if snap.Oracle != nil {
		if !mfaRequired && req.Route != "" {
			mfaRequired = snap.Oracle.MFARequiredForRoute(req.Route)
		}
		mfaVerified = snap.Oracle.MFAStatus().Verified
	}
	if mfaRequired && !mfaVerified {
		return Decision{
			Outcome:  OutcomeMFARequired,
			Role:     profile.Role.DisplayName(),
			Recovery: []Recovery{RecoveryStepUpMFA},
		}
	}

	if len(reasons) > 0 {
		return Decision{
			Outcome: OutcomeDenied,
			Reasons: reasons,
			Role:    profile.Role.DisplayName(),
		}
	}

	return Decision{Outcome: OutcomeAllowed, Role: profile.Role.DisplayName()}
}

// layeredReasons runs capability, role set, minimum level and granular
// checks in that order and returns a reason for each that failed.
func (g *Gate) layeredReasons(req Request, role policy.Role, oracle PermissionOracle) []string {
	var reasons []string

	if req.Capability != "" && !g.catalog.Allows(req.Capability, role) {
		reasons = append(reasons, CapabilityReason(req.Capability))
	}

	if len(req.Roles) > 0 && !containsRole(req.Roles, role) {
		reasons = append(reasons, RolesReason(req.Roles))
	}

	if req.MinimumRoleLevel > 0 && !policy.MeetsLevel(role, req.MinimumRoleLevel) {
		reasons = append(reasons, MinimumLevelReason(req.MinimumRoleLevel))
	}

	if req.GranularKey != "" && (oracle == nil || !oracle.HasGranularPermission(req.GranularKey)) {
		reasons = append(reasons, GranularReason(req.GranularKey))
	}

	return reasons
}

func profileError(message string) Decision {
	return Decision{
		Outcome:  OutcomeProfileError,
		Message:  message,
		Recovery: []Recovery{RecoveryRetryProfile, RecoverySignOut},
	}
}

func containsRole(roles []policy.Role, role policy.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// CapabilityReason is the denial text for a failed capability check.
func CapabilityReason(c policy.Capability) string {
	return fmt.Sprintf("Requires the %s permission", c)
}

// RolesReason is the denial text for a failed role set check.
func RolesReason(roles []policy.Role) string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		if r.IsValid() {
			names = append(names, r.DisplayName())
		} else {
			names = append(names, r.String())
		}
	}
	return "Requires one of the following roles: " + strings.Join(names, ", ")
}

// MinimumLevelReason is the denial text for a failed minimum level check.
func MinimumLevelReason(level int) string {
	return fmt.Sprintf("Requires %s access or higher", policy.RoleForLevel(level).DisplayName())
}

// GranularReason is the denial text for a failed granular check.
func GranularReason(key string) string {
	return "Missing permission: " + key
}
