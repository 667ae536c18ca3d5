package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/repclub/gymgate/internal/ctxkey"
	"github.com/repclub/gymgate/internal/domain/auth"
)

// Authenticator resolves a raw API key to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*auth.Identity, error)
}

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using ctxkey.RequestIDKey.
// An enriched logger with request_id field is stored using ctxkey.LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 128 {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enrichedLogger)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.RequestIDKey{}).(string)
	return id
}

// RealIPMiddleware extracts the client's real IP address for rate limiting
// and anonymous viewer tracking. It checks X-Forwarded-For and X-Real-IP
// headers (for reverse proxy support), falling back to r.RemoteAddr.
// Only the first IP in X-Forwarded-For is trusted to avoid spoofing.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), ctxkey.ClientIPKey{}, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromContext returns the client IP set by RealIPMiddleware.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ctxkey.ClientIPKey{}).(string)
	return ip
}

// extractRealIP extracts the client's real IP address from the request.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuthenticationMiddleware resolves the bearer API key to an identity and
// stores it in context. Requests without a key continue anonymously; a key
// that does not authenticate is rejected with 401.
func AuthenticationMiddleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			rawKey := auth.BearerToken(header)
			if rawKey == "" {
				writeError(w, http.StatusUnauthorized, "malformed authorization header")
				return
			}

			identity, err := authn.Authenticate(r.Context(), rawKey)
			if err != nil {
				logger := LoggerFromContext(r.Context())
				if errors.Is(err, auth.ErrInvalidKey) {
					logger.Info("api key rejected", "client_ip", ClientIPFromContext(r.Context()))
				} else {
					logger.Error("authentication failed", "error", err)
				}
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), ctxkey.IdentityKey{}, identity)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, LoggerFromContext(ctx).With("identity_id", identity.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the authenticated identity, or nil.
func IdentityFromContext(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(ctxkey.IdentityKey{}).(*auth.Identity)
	return identity
}
