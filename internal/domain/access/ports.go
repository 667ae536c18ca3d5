package access

import (
	"context"
	"errors"

	"github.com/repclub/gymgate/internal/domain/auth"
)

// ErrProfileNotFound is returned by a ProfileSource with no profile for an identity.
var ErrProfileNotFound = errors.New("profile not found")

// IdentityProvider exposes the external identity provider's current state.
type IdentityProvider interface {
	// CurrentIdentity returns the signed-in identity, or nil.
	CurrentIdentity() *auth.Identity
	// SessionLoading reports whether the provider is still restoring a session.
	SessionLoading() bool
}

// ProfileProvider exposes the asynchronously resolved profile.
type ProfileProvider interface {
	// CurrentProfile returns the latest resolved profile, or nil.
	CurrentProfile() *Profile
	// ProfileError returns the latest resolution error message, or "".
	ProfileError() string
	// RetryProfileFetch starts a new fetch, superseding any in flight.
	RetryProfileFetch()
	// TerminateSession signs the caller out.
	TerminateSession()
}

// ProfileSource fetches profiles from the system of record.
type ProfileSource interface {
	FetchProfile(ctx context.Context, identityID string) (*Profile, error)
}

// PermissionOracle is the external granular permission and MFA authority.
type PermissionOracle interface {
	HasGranularPermission(key string) bool
	MFAStatus() MFAStatus
	MFARequiredForRoute(route string) bool
}

// Snapshot is the in-memory view of identity, profile and oracle state a
// single evaluation runs against. The gate never reaches past it.
type Snapshot struct {
	Identity       *auth.Identity
	SessionLoading bool
	Profile        *Profile
	ProfileError   string
	Oracle         PermissionOracle
}

// Capture reads the providers once and returns the resulting snapshot.
// Any provider may be nil.
func Capture(idp IdentityProvider, pp ProfileProvider, oracle PermissionOracle) Snapshot {
	var snap Snapshot
	if idp != nil {
		snap.Identity = idp.CurrentIdentity()
		snap.SessionLoading = idp.SessionLoading()
	}
	if pp != nil {
		snap.Profile = pp.CurrentProfile()
		snap.ProfileError = pp.ProfileError()
	}
	snap.Oracle = oracle
	return snap
}
