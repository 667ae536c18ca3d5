package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/repclub/gymgate/internal/domain/access"
	"github.com/repclub/gymgate/internal/domain/audit"
	"github.com/repclub/gymgate/internal/domain/policy"
)

// auditRoute is the route name the audit log is gated and audited under.
const auditRoute = "/v1/audit"

// AuditQueryResponse is the JSON response for GET /v1/audit.
type AuditQueryResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}

// decisionStatus maps a refused gate decision to an HTTP status.
func decisionStatus(d access.Decision) int {
	switch d.Outcome {
	case access.OutcomeAllowed:
		return http.StatusOK
	case access.OutcomeUnauthenticated:
		return http.StatusUnauthorized
	case access.OutcomePending:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

func (a *API) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if a.auditReader == nil {
		writeError(w, http.StatusServiceUnavailable, "audit reader not configured")
		return
	}

	snap := a.snapshotFor(r)
	decision := a.gate.Evaluate(r.Context(), viewerFor(r), access.Request{
		Route:      auditRoute,
		Capability: policy.CapabilityViewAuditLog,
	}, snap)
	if !decision.Allowed() {
		if decision.Outcome == access.OutcomePending {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, decisionStatus(decision), decision)
		return
	}

	// Callers only see their own organization; without one there is
	// nothing they may read.
	if snap.Profile == nil || snap.Profile.OrganizationID == "" {
		writeError(w, http.StatusForbidden, "caller has no organization")
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.OrganizationID = snap.Profile.OrganizationID

	events, err := a.auditReader.Query(r.Context(), filter)
	if err != nil {
		if errors.Is(err, audit.ErrDateRangeExceeded) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		LoggerFromContext(r.Context()).Error("audit query failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, AuditQueryResponse{Events: events, Count: len(events)})
}

// parseAuditFilter reads start, end, actor_id, kind, outcome and limit query
// parameters. start defaults to 24 hours before end, end to now.
func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		ActorID: q.Get("actor_id"),
		Kind:    audit.Kind(q.Get("kind")),
		Outcome: q.Get("outcome"),
	}

	f.EndTime = time.Now().UTC()
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid end time: %w", err)
		}
		f.EndTime = t
	}
	f.StartTime = f.EndTime.Add(-24 * time.Hour)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid start time: %w", err)
		}
		f.StartTime = t
	}
	if f.StartTime.After(f.EndTime) {
		return f, errors.New("start must not be after end")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit: %q", v)
		}
		f.Limit = n
	}
	return f, nil
}
