package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/repclub/gymgate/internal/adapter/outbound/cel"
	"github.com/repclub/gymgate/internal/adapter/outbound/journal"
	"github.com/repclub/gymgate/internal/adapter/outbound/memory"
	"github.com/repclub/gymgate/internal/adapter/outbound/sqlite"
	"github.com/repclub/gymgate/internal/adapter/outbound/state"
	"github.com/repclub/gymgate/internal/config"
	"github.com/repclub/gymgate/internal/domain/access"
	"github.com/repclub/gymgate/internal/domain/audit"
	"github.com/repclub/gymgate/internal/domain/auth"
	"github.com/repclub/gymgate/internal/domain/policy"
	"github.com/repclub/gymgate/internal/domain/ratelimit"
	"github.com/repclub/gymgate/internal/service"
)

// auditBackend is an audit store that can also answer queries.
type auditBackend interface {
	audit.Store
	audit.QueryStore
}

// buildGate creates the access gate from the gate config section.
func buildGate(cfg *config.Config) *access.Gate {
	return access.NewGate(policy.DefaultCatalog(),
		access.WithLoginPath(cfg.Gate.LoginPath),
		access.WithDefaultReturnPath(cfg.Gate.DefaultReturnPath),
	)
}

// buildOracle compiles the configured granular and MFA rules.
func buildOracle(cfg *config.Config, logger *slog.Logger) (*cel.RulesOracle, error) {
	granular := make([]cel.GranularRule, len(cfg.Rules.Granular))
	for i, r := range cfg.Rules.Granular {
		granular[i] = cel.GranularRule{KeyPattern: r.Key, Condition: r.Condition}
	}
	mfa := make([]cel.MFARule, len(cfg.Rules.MFA))
	for i, r := range cfg.Rules.MFA {
		mfa[i] = cel.MFARule{RoutePattern: r.Route, Condition: r.Condition}
	}
	oracle, err := cel.NewRulesOracle(granular, mfa, logger)
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}
	return oracle, nil
}

// throttleLimits overlays the configured action limits on the built-in
// defaults.
func throttleLimits(cfg *config.Config) map[string]ratelimit.Config {
	limits := service.DefaultThrottleLimits()
	for action, l := range cfg.ThrottleLimits() {
		limits[action] = l
	}
	return limits
}

// seedAuthFromConfig seeds identities and API keys from configuration into the auth store.
func seedAuthFromConfig(cfg *config.Config, authStore *memory.AuthStore) error {
	for i, identity := range cfg.Auth.Identities {
		if err := authStore.AddIdentity(&auth.Identity{
			ID:    identity.ID,
			Name:  identity.Name,
			Email: identity.Email,
		}); err != nil {
			return fmt.Errorf("auth.identities[%d]: %w", i, err)
		}
	}
	for i, key := range cfg.Auth.APIKeys {
		authStore.AddKey(&auth.APIKey{
			Key:        key.KeyHash,
			IdentityID: key.IdentityID,
			Name:       fmt.Sprintf("config-key-%d", i),
		})
	}
	return nil
}

// seedProfilesFromConfig loads configured profiles into the profile directory.
func seedProfilesFromConfig(cfg *config.Config, dir *memory.ProfileDirectory) error {
	for i, p := range cfg.Profiles {
		role, err := policy.ParseRole(p.Role)
		if err != nil {
			return fmt.Errorf("profiles[%d]: %w", i, err)
		}
		dir.Put(&access.Profile{
			IdentityID:     p.IdentityID,
			Role:           role,
			OrganizationID: p.OrganizationID,
			DisplayName:    p.DisplayName,
		})
	}
	return nil
}

// restoreLockouts loads saved failure records into lockouts. A nil
// store means persistence is off.
func restoreLockouts(store *state.FileStore, lockouts *memory.LockoutStore, logger *slog.Logger) error {
	if store == nil {
		return nil
	}
	snap, err := store.Load()
	if err != nil {
		return fmt.Errorf("load lockout state: %w", err)
	}
	restored := lockouts.Restore(snap.Lockouts)
	logger.Info("restored lockout state", "path", store.Path(), "records", restored, "saved_at", snap.SavedAt)
	return nil
}

// saveLockouts writes the current failure records to store.
func saveLockouts(store *state.FileStore, lockouts *memory.LockoutStore, logger *slog.Logger) {
	if store == nil {
		return
	}
	records := lockouts.Snapshot()
	if err := store.Save(&state.Snapshot{Lockouts: records}); err != nil {
		logger.Error("failed to save lockout state", "path", store.Path(), "error", err)
		return
	}
	logger.Info("saved lockout state", "path", store.Path(), "records", len(records))
}

// createAuditStore creates an audit store based on configuration.
func createAuditStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auditBackend, error) {
	output := cfg.Audit.Output
	switch {
	case output == "stdout":
		logger.Debug("audit output: stdout", "buffer_size", cfg.Audit.BufferSize)
		return memory.NewAuditStore(cfg.Audit.BufferSize), nil

	case strings.HasPrefix(output, "file://"):
		path := strings.TrimPrefix(output, "file://")
		store, err := memory.OpenFileAuditStore(path, cfg.Audit.BufferSize)
		if err != nil {
			return nil, err
		}
		logger.Debug("audit output: file", "path", path, "buffer_size", cfg.Audit.BufferSize)
		return store, nil

	case strings.HasPrefix(output, "dir://"):
		dir := strings.TrimPrefix(output, "dir://")
		return journal.Open(journal.Config{
			Dir:           dir,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
			CacheSize:     cfg.Audit.BufferSize,
		}, logger)

	case strings.HasPrefix(output, "sqlite://"):
		path := strings.TrimPrefix(output, "sqlite://")
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		logger.Debug("audit output: sqlite", "path", path)
		return store, nil

	default:
		return nil, fmt.Errorf("invalid audit output: %s (must be 'stdout', 'file://path', 'dir://path' or 'sqlite://path')", output)
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
