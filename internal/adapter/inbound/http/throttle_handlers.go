package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/repclub/gymgate/internal/domain/auth"
	"github.com/repclub/gymgate/internal/domain/ratelimit"
	"github.com/repclub/gymgate/internal/service"
)

// ThrottleRequest is the optional JSON body for POST /v1/throttle/{action}.
type ThrottleRequest struct {
	Identifier string `json:"identifier,omitempty" validate:"max=254"`
}

// ThrottleResponse reports a throttle decision.
type ThrottleResponse struct {
	Action     string    `json:"action"`
	Allowed    bool      `json:"allowed"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after_seconds,omitempty"`
	RetryIn    string    `json:"retry_in,omitempty"`
}

// LoginRequest is the JSON body for the login outcome endpoints.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
}

// LoginSuccessRequest is the optional JSON body for POST /v1/login/success.
// The identifier, when given, must be the caller's own.
type LoginSuccessRequest struct {
	Identifier string `json:"identifier,omitempty" validate:"max=254"`
}

// LoginStateResponse reports the lockout state of a login identifier.
type LoginStateResponse struct {
	Identifier        string     `json:"identifier"`
	Locked            bool       `json:"locked"`
	FailureCount      int        `json:"failure_count"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	RetryAfter        int        `json:"retry_after_seconds,omitempty"`
	RetryIn           string     `json:"retry_in,omitempty"`
}

func toThrottleResponse(d service.ThrottleDecision) ThrottleResponse {
	return ThrottleResponse{
		Action:     d.Action,
		Allowed:    d.Allowed,
		Remaining:  d.Remaining,
		ResetAt:    d.ResetAt.UTC(),
		RetryAfter: d.RetryAfterSeconds(),
		RetryIn:    d.RetryIn,
	}
}

func toLoginStateResponse(identifier string, st service.LoginState) LoginStateResponse {
	resp := LoginStateResponse{
		Identifier:        identifier,
		Locked:            st.Locked,
		FailureCount:      st.FailureCount,
		AttemptsRemaining: st.AttemptsRemaining,
		RetryAfter:        ratelimit.CeilSeconds(st.RetryAfter),
		RetryIn:           st.RetryIn,
	}
	if st.Locked {
		until := st.LockedUntil.UTC()
		resp.LockedUntil = &until
	}
	return resp
}

// throttleIdentity picks the key a throttle counts against: the
// authenticated identity, then a caller-supplied identifier, then the
// client address.
func throttleIdentity(r *http.Request, identifier string) string {
	if identity := IdentityFromContext(r.Context()); identity != nil {
		return identity.ID
	}
	if identifier != "" {
		return ratelimit.ClaimedIdentity(identifier)
	}
	return ratelimit.ClientIdentity(clientIP(r))
}

func (a *API) writeThrottleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrUnknownAction) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	LoggerFromContext(r.Context()).Error("throttle check failed", "error", err)
	writeError(w, http.StatusServiceUnavailable, "throttle unavailable")
}

func (a *API) handleThrottleConsume(w http.ResponseWriter, r *http.Request) {
	var body ThrottleRequest
	if err := a.decodeAndValidate(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	action := r.PathValue("action")
	decision, err := a.throttle.Consume(r.Context(), action, throttleIdentity(r, body.Identifier))
	if err != nil {
		a.writeThrottleError(w, r, err)
		return
	}

	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
		writeJSON(w, http.StatusTooManyRequests, toThrottleResponse(decision))
		return
	}
	writeJSON(w, http.StatusOK, toThrottleResponse(decision))
}

func (a *API) handleThrottlePeek(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	identifier := r.URL.Query().Get("identifier")
	if len(identifier) > 254 {
		writeError(w, http.StatusBadRequest, "identifier: failed \"max\"")
		return
	}

	decision, err := a.throttle.Peek(r.Context(), action, throttleIdentity(r, identifier))
	if err != nil {
		a.writeThrottleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toThrottleResponse(decision))
}

func (a *API) handleLoginFailure(w http.ResponseWriter, r *http.Request) {
	var body LoginRequest
	if err := a.decodeAndValidate(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := a.throttle.RecordLoginFailure(r.Context(), body.Identifier)
	if err != nil {
		a.writeThrottleError(w, r, err)
		return
	}
	identifier := ratelimit.NormalizeIdentifier(body.Identifier)
	if state.Locked {
		w.Header().Set("Retry-After", strconv.Itoa(ratelimit.CeilSeconds(state.RetryAfter)))
		writeJSON(w, http.StatusLocked, toLoginStateResponse(identifier, state))
		return
	}
	writeJSON(w, http.StatusOK, toLoginStateResponse(identifier, state))
}

func (a *API) handleLoginSuccess(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var body LoginSuccessRequest
	if err := a.decodeAndValidate(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	identifier, ok := ownLoginIdentifier(identity, body.Identifier)
	if !ok {
		writeError(w, http.StatusForbidden, "identifier does not belong to the caller")
		return
	}
	if err := a.throttle.RecordLoginSuccess(r.Context(), identifier, identity.ID); err != nil {
		a.writeThrottleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownLoginIdentifier resolves the identifier a successful login clears. Only
// the caller's own email or ID qualifies; an empty request means the email,
// falling back to the ID.
func ownLoginIdentifier(identity *auth.Identity, requested string) (string, bool) {
	own := []string{ratelimit.NormalizeIdentifier(identity.Email), ratelimit.NormalizeIdentifier(identity.ID)}
	want := ratelimit.NormalizeIdentifier(requested)
	if want == "" {
		if own[0] != "" {
			return own[0], true
		}
		return own[1], own[1] != ""
	}
	for _, id := range own {
		if id != "" && id == want {
			return id, true
		}
	}
	return "", false
}

func (a *API) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	state, err := a.throttle.LockoutStatus(r.Context(), identifier)
	if err != nil {
		a.writeThrottleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginStateResponse(ratelimit.NormalizeIdentifier(identifier), state))
}
