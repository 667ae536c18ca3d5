package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/repclub/gymgate/internal/adapter/inbound/http"
	"github.com/repclub/gymgate/internal/adapter/outbound/memory"
	"github.com/repclub/gymgate/internal/adapter/outbound/state"
	"github.com/repclub/gymgate/internal/config"
	"github.com/repclub/gymgate/internal/domain/auth"
	"github.com/repclub/gymgate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server",
	Long: `Start the gymgate API server.

The server exposes access evaluation, sensitive action throttling, login
lockout tracking, MFA step-up and audit queries under /v1, plus /health
and /metrics.

Examples:
  # Start with config file settings
  gymgate start

  # Start with a seeded development owner (API key "dev-api-key")
  gymgate start --dev

  # Start with a specific config file
  gymgate --config /path/to/gymgate.yaml start`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, seeded dev identity)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("development mode enabled: a dev owner identity is seeded, do not expose this server")
	}

	// Write PID file so "gymgate stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("gymgate stopped")
	return nil
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tracer, shutdownTracing, err := setupTracing(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// ===== Identities and profiles =====
	authStore := memory.NewAuthStore()
	if err := seedAuthFromConfig(cfg, authStore); err != nil {
		return err
	}
	apiKeyService := auth.NewAPIKeyService(authStore)

	profiles := memory.NewProfileDirectory()
	if err := seedProfilesFromConfig(cfg, profiles); err != nil {
		return err
	}
	logger.Debug("seeded auth from config",
		"identities", len(cfg.Auth.Identities),
		"api_keys", len(cfg.Auth.APIKeys),
		"profiles", profiles.Size(),
	)

	sessions := service.NewSessionRegistry(profiles,
		config.Duration(cfg.Gate.ProfileTimeout, 5*time.Second),
		config.Duration(cfg.Gate.ProfileTTL, 5*time.Minute),
		logger,
	)

	// ===== Audit =====
	auditStore, err := createAuditStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(config.Duration(cfg.Audit.FlushInterval, time.Second)),
		service.WithSendTimeout(config.Duration(cfg.Audit.SendTimeout, 100*time.Millisecond)),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	auditService.Start(ctx)
	// Stopped after the transport so in-flight requests can still record.
	defer auditService.Stop()

	registry, metrics := httpapi.NewRegistry()

	// ===== Gate =====
	gateService := service.NewGateService(buildGate(cfg), auditService, logger,
		service.WithGateMetrics(metrics),
		service.WithTracer(tracer),
	)
	gateService.StartGuardSweep(ctx,
		config.Duration(cfg.Gate.GuardSweepInterval, 5*time.Minute),
		config.Duration(cfg.Gate.GuardMaxIdle, 30*time.Minute),
	)
	defer gateService.Stop()

	oracle, err := buildOracle(cfg, logger)
	if err != nil {
		return err
	}
	granularRules, mfaRules := oracle.RuleCount()

	mfaStore := memory.NewMFAStore(config.Duration(cfg.MFA.VerifiedTTL, 12*time.Hour), logger)
	mfaStore.StartCleanup(ctx)
	defer mfaStore.Stop()

	// ===== Throttle and lockout =====
	limiter := memory.NewRateLimiterWithConfig(logger, 0, config.Duration(cfg.Throttle.CleanupInterval, time.Minute))
	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	lockouts := memory.NewLockoutStore(cfg.LockoutPolicy(), config.Duration(cfg.Lockout.Retention, 24*time.Hour), logger)
	var lockoutState *state.FileStore
	if cfg.Lockout.StateFile != "" {
		lockoutState = state.NewFileStore(cfg.Lockout.StateFile, logger)
	}
	if err := restoreLockouts(lockoutState, lockouts, logger); err != nil {
		return err
	}
	lockouts.StartCleanup(ctx, 0)
	defer lockouts.Stop()
	// Saved once the transport has drained, after the last login attempt.
	defer saveLockouts(lockoutState, lockouts, logger)

	throttle, err := service.NewThrottleService(limiter, lockouts, throttleLimits(cfg), auditService, logger,
		service.WithThrottleMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create throttle service: %w", err)
	}

	// ===== HTTP =====
	api := httpapi.NewAPI(gateService, throttle, sessions, logger,
		httpapi.WithOracle(oracle),
		httpapi.WithMFAVerifier(mfaStore),
		httpapi.WithAuditSink(auditService),
		httpapi.WithAuditReader(auditStore),
		httpapi.WithProfileWait(config.Duration(cfg.Gate.ProfileWait, 250*time.Millisecond)),
	)

	transportOpts := []httpapi.Option{
		httpapi.WithAddr(cfg.Server.HTTPAddr),
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(metrics, registry),
		httpapi.WithAuthenticator(apiKeyService),
		httpapi.WithHealthChecker(httpapi.NewHealthChecker(limiter, lockouts, auditService, sessions, Version)),
	}
	if cfg.Server.TLSCertFile != "" {
		transportOpts = append(transportOpts, httpapi.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	if cfg.RateLimit.Enabled {
		ipLimiter := httpapi.NewIPRateLimiter(float64(cfg.RateLimit.IPRate)/60, cfg.RateLimit.Burst)
		ipLimiter.StartCleanup(ctx, config.Duration(cfg.RateLimit.CleanupInterval, 3*time.Minute))
		defer ipLimiter.Stop()
		transportOpts = append(transportOpts, httpapi.WithIPLimiter(ipLimiter))
		logger.Debug("per-IP rate limiting enabled", "per_minute", cfg.RateLimit.IPRate, "burst", cfg.RateLimit.Burst)
	}
	transport := httpapi.NewHTTPTransport(api, transportOpts...)

	printBanner(Version, cfg.Server.HTTPAddr, cfg.DevMode, len(cfg.Auth.Identities), granularRules, mfaRules)

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// printBanner prints a startup banner to stderr.
func printBanner(version, httpAddr string, devMode bool, identities, granularRules, mfaRules int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	baseURL := "http://" + httpAddr
	if strings.HasPrefix(httpAddr, ":") {
		baseURL = "http://localhost" + httpAddr
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset + dim + " (dev owner seeded)" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s gymgate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s/v1\n", "API:", baseURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s/health\n", "Health:", baseURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %d configured\n", "Identities:", identities)
	fmt.Fprintf(os.Stderr, "  %-14s %d granular / %d MFA\n", "Rules:", granularRules, mfaRules)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// pidFilePath returns the standard location for the gymgate PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".gymgate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "gymgate-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
