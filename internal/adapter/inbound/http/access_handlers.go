package http

import (
	"net/http"
	"time"

	"github.com/repclub/gymgate/internal/domain/access"
	"github.com/repclub/gymgate/internal/domain/audit"
	"github.com/repclub/gymgate/internal/domain/policy"
)

// EvaluateRequest is the JSON body for POST /v1/access/evaluate.
type EvaluateRequest struct {
	Route            string   `json:"route" validate:"required,max=512"`
	Capability       string   `json:"capability,omitempty" validate:"max=64"`
	Roles            []string `json:"roles,omitempty" validate:"max=5,dive,required"`
	MinimumRoleLevel int      `json:"minimum_role_level,omitempty" validate:"gte=0,lte=5"`
	GranularKey      string   `json:"granular_key,omitempty" validate:"max=128"`
	RequireMFA       bool     `json:"require_mfa,omitempty"`
}

// CatalogEntry is one capability in the GET /v1/catalog response.
type CatalogEntry struct {
	Capability string   `json:"capability"`
	Roles      []string `json:"roles"`
}

// toRequest validates body against the catalog and builds the gate request.
func (a *API) toRequest(body EvaluateRequest) (access.Request, string) {
	req := access.Request{
		Route:            body.Route,
		MinimumRoleLevel: body.MinimumRoleLevel,
		GranularKey:      body.GranularKey,
		RequireMFA:       body.RequireMFA,
	}
	if body.Capability != "" {
		c := policy.Capability(body.Capability)
		if !a.gate.Gate().Catalog().Has(c) {
			return req, "unknown capability: " + body.Capability
		}
		req.Capability = c
	}
	for _, name := range body.Roles {
		role, err := policy.ParseRole(name)
		if err != nil {
			return req, err.Error()
		}
		req.Roles = append(req.Roles, role)
	}
	return req, ""
}

// snapshotFor resolves the caller's state for one evaluation. Anonymous
// callers get an empty snapshot.
func (a *API) snapshotFor(r *http.Request) access.Snapshot {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		return access.Snapshot{}
	}
	resolver := a.sessions.Resolve(r.Context(), identity.ID, a.profileWait)

	// The gate and the oracle must see the same profile.
	profile, profileErr := resolver.ProfileState()
	snap := access.Snapshot{
		Identity:     identity,
		Profile:      profile,
		ProfileError: profileErr,
	}
	if a.oracle != nil {
		verified := a.mfa != nil && a.mfa.Verified(identity.ID)
		snap.Oracle = a.oracle.Bind(identity, profile, verified)
	}
	return snap
}

func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var body EvaluateRequest
	if err := a.decodeAndValidate(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, problem := a.toRequest(body)
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return
	}

	decision := a.gate.Evaluate(r.Context(), viewerFor(r), req, a.snapshotFor(r))
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := a.gate.Gate().Catalog()
	caps := catalog.Capabilities()
	entries := make([]CatalogEntry, 0, len(caps))
	for _, c := range caps {
		roles := catalog.AllowedRoles(c)
		names := make([]string, len(roles))
		for i, role := range roles {
			names[i] = role.String()
		}
		entries = append(entries, CatalogEntry{Capability: string(c), Roles: names})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleProfileRetry(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	a.sessions.Resolver(identity.ID).RetryProfileFetch()
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	a.gate.EndSession(identity.ID)
	a.sessions.End(identity.ID)
	if a.mfa != nil {
		a.mfa.Revoke(identity.ID)
	}
	a.record(audit.Event{
		Kind:    audit.KindSessionEnded,
		ActorID: identity.ID,
		Subject: identity.ID,
		Outcome: audit.OutcomeSucceeded,
	})
	LoggerFromContext(r.Context()).Info("session ended")
	w.WriteHeader(http.StatusNoContent)
}

// MFAVerifyResponse is the JSON response for POST /v1/mfa/verify.
type MFAVerifyResponse struct {
	VerifiedUntil time.Time `json:"verified_until"`
}

// handleMFAVerify records that the identity provider completed a step-up
// for the caller.
func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if a.mfa == nil {
		writeError(w, http.StatusServiceUnavailable, "mfa verification not configured")
		return
	}

	until := a.mfa.MarkVerified(identity.ID)
	// Decisions made before the step-up must be auditable again.
	a.gate.EndSession(identity.ID)
	a.record(audit.Event{
		Kind:    audit.KindMFAVerified,
		ActorID: identity.ID,
		Subject: identity.ID,
		Outcome: audit.OutcomeSucceeded,
	})
	writeJSON(w, http.StatusOK, MFAVerifyResponse{VerifiedUntil: until.UTC()})
}
