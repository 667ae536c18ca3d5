package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/repclub/gymgate/internal/domain/access"
	"github.com/repclub/gymgate/internal/domain/audit"
	"github.com/repclub/gymgate/internal/domain/auth"
	"github.com/repclub/gymgate/internal/service"
)

// maxBodyBytes bounds request bodies read by the API.
const maxBodyBytes = 64 << 10

// OracleBinder builds the permission oracle for one evaluation.
type OracleBinder interface {
	Bind(identity *auth.Identity, profile *access.Profile, mfaVerified bool) access.PermissionOracle
}

// MFAVerifier tracks completed second-factor step-ups per identity.
type MFAVerifier interface {
	MarkVerified(identityID string) time.Time
	Verified(identityID string) bool
	Revoke(identityID string)
}

// API serves the gate, throttle and audit endpoints under /v1.
type API struct {
	gate        *service.GateService
	throttle    *service.ThrottleService
	sessions    *service.SessionRegistry
	oracle      OracleBinder
	mfa         MFAVerifier
	sink        audit.Sink
	auditReader audit.QueryStore
	validate    *validator.Validate
	logger      *slog.Logger
	profileWait time.Duration
	now         func() time.Time
}

// APIOption configures an API.
type APIOption func(*API)

// WithOracle sets the granular permission and MFA rule oracle.
// Without one, granular checks are denied and MFA is never verified.
func WithOracle(o OracleBinder) APIOption {
	return func(a *API) {
		a.oracle = o
	}
}

// WithMFAVerifier sets the step-up verification store.
func WithMFAVerifier(m MFAVerifier) APIOption {
	return func(a *API) {
		a.mfa = m
	}
}

// WithAuditSink sets where session and MFA events are recorded.
func WithAuditSink(s audit.Sink) APIOption {
	return func(a *API) {
		a.sink = s
	}
}

// WithAuditReader enables GET /v1/audit.
func WithAuditReader(r audit.QueryStore) APIOption {
	return func(a *API) {
		a.auditReader = r
	}
}

// WithProfileWait sets how long an evaluation waits for a profile fetch
// before answering pending.
func WithProfileWait(d time.Duration) APIOption {
	return func(a *API) {
		if d >= 0 {
			a.profileWait = d
		}
	}
}

// NewAPI creates the API handler.
func NewAPI(
	gate *service.GateService,
	throttle *service.ThrottleService,
	sessions *service.SessionRegistry,
	logger *slog.Logger,
	opts ...APIOption,
) *API {
	a := &API{
		gate:        gate,
		throttle:    throttle,
		sessions:    sessions,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
		profileWait: 250 * time.Millisecond,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes returns the API routes.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/access/evaluate", a.handleEvaluate)
	mux.HandleFunc("GET /v1/catalog", a.handleCatalog)
	mux.HandleFunc("POST /v1/profile/retry", a.handleProfileRetry)
	mux.HandleFunc("POST /v1/session/end", a.handleSessionEnd)
	mux.HandleFunc("POST /v1/mfa/verify", a.handleMFAVerify)

	mux.HandleFunc("POST /v1/throttle/{action}", a.handleThrottleConsume)
	mux.HandleFunc("GET /v1/throttle/{action}", a.handleThrottlePeek)
	mux.HandleFunc("POST /v1/login/failure", a.handleLoginFailure)
	mux.HandleFunc("POST /v1/login/success", a.handleLoginSuccess)
	mux.HandleFunc("GET /v1/login/status", a.handleLoginStatus)

	mux.HandleFunc("GET /v1/audit", a.handleQueryAudit)

	return mux
}

// viewerFor identifies the caller for audit de-duplication.
func viewerFor(r *http.Request) string {
	if identity := IdentityFromContext(r.Context()); identity != nil {
		return identity.ID
	}
	return "anon:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if ip := ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return extractRealIP(r)
}

func (a *API) record(e audit.Event) {
	if a.sink != nil {
		a.sink.Record(e)
	}
}

// decodeAndValidate reads a JSON body into v and runs struct validation.
// An empty body leaves v at its zero value before validation.
func (a *API) decodeAndValidate(r *http.Request, v any) error {
	if err := readJSON(r, v); err != nil {
		return err
	}
	if err := a.validate.Struct(v); err != nil {
		return validationMessage(err)
	}
	return nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// writeJSON writes data as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into v. Unknown fields are rejected.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
