package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPTransport serves the gate API, health and metrics endpoints.
type HTTPTransport struct {
	api           *API
	authn         Authenticator
	server        *http.Server
	addr          string
	certFile      string
	keyFile       string
	logger        *slog.Logger
	metrics       *Metrics
	registry      *prometheus.Registry
	healthChecker *HealthChecker
	ipLimiter     *IPRateLimiter
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithMetrics uses metrics registered on reg, so services constructed
// before the transport can report into the same registry.
func WithMetrics(m *Metrics, reg *prometheus.Registry) Option {
	return func(t *HTTPTransport) {
		t.metrics = m
		t.registry = reg
	}
}

// WithIPLimiter applies a per-client request budget to the API routes.
func WithIPLimiter(l *IPRateLimiter) Option {
	return func(t *HTTPTransport) {
		t.ipLimiter = l
	}
}

// WithAuthenticator resolves bearer API keys to identities. Without one
// every caller is anonymous.
func WithAuthenticator(a Authenticator) Option {
	return func(t *HTTPTransport) {
		t.authn = a
	}
}

// NewHTTPTransport creates an HTTP transport serving api.
func NewHTTPTransport(api *API, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		api:    api,
		addr:   "127.0.0.1:8080",
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors along with the gate metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, NewMetrics(reg)
}

// Handler builds the routed, middleware-wrapped handler.
func (t *HTTPTransport) Handler() http.Handler {
	if t.registry == nil || t.metrics == nil {
		t.registry, t.metrics = NewRegistry()
	}
	if t.healthChecker != nil {
		t.healthChecker.withMetrics(t.metrics)
	}

	// Middleware order (outermost first):
	// 1. MetricsMiddleware - duration and status, outermost to capture the full duration
	// 2. RequestID - extract/generate request ID and enrich logger
	// 3. RealIP - client IP from X-Forwarded-For
	// 4. IPLimiter - per-client budget, before any authentication work
	// 5. Authentication - bearer API key to identity
	// 6. API routes
	var api http.Handler = http.NotFoundHandler()
	if t.api != nil {
		api = t.api.Routes()
	}
	if t.authn != nil {
		api = AuthenticationMiddleware(t.authn)(api)
	}
	if t.ipLimiter != nil {
		api = t.ipLimiter.Middleware(api)
	}
	api = RealIPMiddleware(api)
	api = RequestIDMiddleware(t.logger)(api)
	api = MetricsMiddleware(t.metrics)(api)

	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/v1/", api)
	return mux
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
