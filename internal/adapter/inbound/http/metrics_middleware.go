package http

import (
	"net/http"
	"strings"
	"time"
)

// endpointGroups are the /v1 path segments used as the endpoint label.
// Anything else is counted as "other" to keep label cardinality fixed.
var endpointGroups = map[string]bool{
	"access":   true,
	"catalog":  true,
	"profile":  true,
	"session":  true,
	"mfa":      true,
	"throttle": true,
	"login":    true,
	"audit":    true,
}

// endpointLabel maps /v1/<group>/... to <group>.
func endpointLabel(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/")
	if !ok {
		return "other"
	}
	group, _, _ := strings.Cut(rest, "/")
	if endpointGroups[group] {
		return group
	}
	return "other"
}

// MetricsMiddleware records request duration and outcome per method and
// endpoint group.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			endpoint := endpointLabel(r.URL.Path)
			metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, endpoint, statusToLabel(wrapped.status)).Inc()
		})
	}
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusToLabel buckets a status code. Refusals (401, 403, 423, 429) are
// expected answers of an authorization service, not errors.
func statusToLabel(code int) string {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusLocked, http.StatusTooManyRequests:
		return "refused"
	}
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
