// Package config provides configuration types for gymgate.
//
// Configuration is file-based (gymgate.yaml) with environment overrides.
// Identities, API keys and profiles declared here seed the in-memory
// stores; deployments with a real profile backend leave profiles empty
// and point the service at it instead.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/repclub/gymgate/internal/domain/ratelimit"
)

// Config is the top-level configuration for gymgate.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Auth configures file-based identities and API keys.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Profiles seeds the profile directory: one per identity.
	Profiles []ProfileConfig `yaml:"profiles" mapstructure:"profiles" validate:"omitempty,dive"`

	// Gate configures redirects and profile resolution for access checks.
	Gate GateConfig `yaml:"gate" mapstructure:"gate"`

	// Throttle configures per-action limits on sensitive operations.
	Throttle ThrottleConfig `yaml:"throttle" mapstructure:"throttle"`

	// Lockout configures the login lockout policy.
	Lockout LockoutConfig `yaml:"lockout" mapstructure:"lockout"`

	// RateLimit configures the per-IP request budget on the API.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Rules configures the granular permission and MFA route rules.
	Rules RulesConfig `yaml:"rules" mapstructure:"rules"`

	// MFA configures step-up verification.
	MFA MFAConfig `yaml:"mfa" mapstructure:"mfa"`

	// Audit configures where audit events are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Tracing configures OpenTelemetry spans for gate evaluations.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables development features (verbose logging, seeded identities).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`
}

// AuthConfig configures file-based authentication.
type AuthConfig struct {
	// Identities defines the known identities (members and staff).
	Identities []IdentityConfig `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive"`

	// APIKeys defines the API keys that map to identities.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// IdentityConfig defines a file-based identity.
type IdentityConfig struct {
	// ID is the unique identifier for this identity.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is the human-readable name for this identity.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Email is the login identifier, used for lockout tracking.
	Email string `yaml:"email" mapstructure:"email" validate:"omitempty,email"`
}

// APIKeyConfig defines an API key that authenticates as an identity.
type APIKeyConfig struct {
	// KeyHash is "sha256:<hex>" or an Argon2id PHC string.
	// Generate with: gymgate hash-key [--argon2id] <key>
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`

	// IdentityID references the identity this key authenticates as.
	// Must match an ID in Auth.Identities.
	IdentityID string `yaml:"identity_id" mapstructure:"identity_id" validate:"required"`
}

// ProfileConfig is the business profile of one identity.
type ProfileConfig struct {
	IdentityID     string `yaml:"identity_id" mapstructure:"identity_id" validate:"required"`
	Role           string `yaml:"role" mapstructure:"role" validate:"required,role"`
	OrganizationID string `yaml:"organization_id" mapstructure:"organization_id"`
	DisplayName    string `yaml:"display_name" mapstructure:"display_name"`
}

// GateConfig configures the authorization gate and profile resolution.
type GateConfig struct {
	// LoginPath is the authentication entry point unauthenticated callers
	// are redirected to. Defaults to "/login".
	LoginPath string `yaml:"login_path" mapstructure:"login_path" validate:"omitempty,startswith=/"`

	// DefaultReturnPath replaces unsafe return paths. Defaults to "/dashboard".
	DefaultReturnPath string `yaml:"default_return_path" mapstructure:"default_return_path" validate:"omitempty,startswith=/"`

	// ProfileWait is how long an evaluation waits for a profile before
	// answering pending (e.g., "250ms"). Defaults to "250ms".
	ProfileWait string `yaml:"profile_wait" mapstructure:"profile_wait" validate:"omitempty,duration"`

	// ProfileTimeout bounds one profile fetch. Defaults to "5s".
	ProfileTimeout string `yaml:"profile_timeout" mapstructure:"profile_timeout" validate:"omitempty,duration"`

	// ProfileTTL is how long a resolved profile is trusted before it is
	// refetched. Defaults to "5m".
	ProfileTTL string `yaml:"profile_ttl" mapstructure:"profile_ttl" validate:"omitempty,duration"`

	// GuardSweepInterval is how often idle audit de-duplication state is
	// dropped. Defaults to "5m".
	GuardSweepInterval string `yaml:"guard_sweep_interval" mapstructure:"guard_sweep_interval" validate:"omitempty,duration"`

	// GuardMaxIdle is how long a viewer may be idle before its state is
	// dropped. Defaults to "30m".
	GuardMaxIdle string `yaml:"guard_max_idle" mapstructure:"guard_max_idle" validate:"omitempty,duration"`
}

// ThrottleConfig configures sensitive action limits.
type ThrottleConfig struct {
	// Limits maps an action name to its fixed-window limit. Actions not
	// listed keep their built-in defaults.
	Limits map[string]LimitConfig `yaml:"limits" mapstructure:"limits" validate:"omitempty,dive"`

	// CleanupInterval is how often expired windows are removed. Defaults to "1m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`
}

// LimitConfig is one fixed-window limit.
type LimitConfig struct {
	MaxRequests int    `yaml:"max_requests" mapstructure:"max_requests" validate:"required,min=1"`
	Window      string `yaml:"window" mapstructure:"window" validate:"required,duration"`
}

// LockoutConfig configures the login lockout policy.
type LockoutConfig struct {
	// Threshold is the failure count that locks an identifier. Defaults to 5.
	Threshold int `yaml:"threshold" mapstructure:"threshold" validate:"omitempty,min=1"`

	// Duration is the first lockout's length. Defaults to "15m".
	Duration string `yaml:"duration" mapstructure:"duration" validate:"omitempty,duration"`

	// MaxDuration caps escalated lockouts. Defaults to "24h".
	MaxDuration string `yaml:"max_duration" mapstructure:"max_duration" validate:"omitempty,duration"`

	// Escalate doubles the lockout for each repeated lockout. Defaults to true.
	Escalate bool `yaml:"escalate" mapstructure:"escalate"`

	// Retention is how long an idle failure record is kept. Defaults to "24h".
	Retention string `yaml:"retention" mapstructure:"retention" validate:"omitempty,duration"`

	// StateFile, when set, is an absolute path where failure records are
	// saved on shutdown and restored on start, so a restart does not
	// unlock identifiers.
	StateFile string `yaml:"state_file" mapstructure:"state_file" validate:"omitempty,abs_path"`
}

// RateLimitConfig configures the per-IP request budget.
type RateLimitConfig struct {
	// Enabled turns the per-IP limiter on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// IPRate is the maximum requests per minute per IP address.
	// Defaults to 300.
	IPRate int `yaml:"ip_rate" mapstructure:"ip_rate" validate:"omitempty,min=1"`

	// Burst is the number of requests allowed at once. Defaults to 30.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`

	// CleanupInterval is how often idle clients are dropped. Defaults to "3m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`
}

// RulesConfig configures the rules oracle.
type RulesConfig struct {
	// Granular grants permission keys matching a glob when a CEL condition holds.
	Granular []GranularRuleConfig `yaml:"granular" mapstructure:"granular" validate:"omitempty,dive"`

	// MFA requires step-up on routes matching a glob when a CEL condition holds.
	MFA []MFARuleConfig `yaml:"mfa" mapstructure:"mfa" validate:"omitempty,dive"`
}

// GranularRuleConfig is one granular permission rule.
type GranularRuleConfig struct {
	// Key is a glob over permission keys (e.g., "reports.*").
	Key string `yaml:"key" mapstructure:"key" validate:"required"`
	// Condition is a CEL expression; empty always holds.
	Condition string `yaml:"condition" mapstructure:"condition"`
}

// MFARuleConfig is one MFA route rule.
type MFARuleConfig struct {
	// Route is a glob over routes (e.g., "/billing/*").
	Route string `yaml:"route" mapstructure:"route" validate:"required"`
	// Condition is a CEL expression; empty always holds.
	Condition string `yaml:"condition" mapstructure:"condition"`
}

// MFAConfig configures step-up verification.
type MFAConfig struct {
	// VerifiedTTL is how long a step-up stays valid. Defaults to "12h".
	VerifiedTTL string `yaml:"verified_ttl" mapstructure:"verified_ttl" validate:"omitempty,duration"`
}

// AuditConfig configures audit output.
type AuditConfig struct {
	// Output specifies where audit events are written.
	// Valid values: "stdout", "file:///absolute/path/audit.log" (JSON lines),
	// "dir:///absolute/path" (day files with retention)
	// or "sqlite:///absolute/path/audit.db" (durable, queryable).
	// Defaults to "stdout" if empty.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of events to batch before writing.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending events (e.g., "1s", "500ms").
	// Defaults to "1s" if not specified.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long to block when the channel is full (e.g., "100ms", "0").
	// "0" drops immediately. Defaults to "100ms" if not specified.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel fill percentage (0-100) that logs a warning.
	// Defaults to 80 if not specified.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// BufferSize is the number of recent events kept in memory for queries
	// when the output is stdout or a file. Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// RetentionDays is how long dir:// day files are kept. Defaults to 30.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// MaxFileSizeMB starts a new dir:// file once the current one reaches
	// this size. Defaults to 50.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled exports a span per gate evaluation. Defaults to false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Output is "stdout" or "file:///absolute/path/traces.json".
	// Defaults to "stdout".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,trace_output"`
}

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	// Provide a default dev identity if none configured
	if len(c.Auth.Identities) == 0 {
		c.Auth.Identities = []IdentityConfig{
			{
				ID:    "dev-owner",
				Name:  "Development Owner",
				Email: "owner@gymgate.dev",
			},
		}
	}

	// SHA256 of "dev-api-key"
	if len(c.Auth.APIKeys) == 0 {
		c.Auth.APIKeys = []APIKeyConfig{
			{
				KeyHash:    "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274",
				IdentityID: "dev-owner",
			},
		}
	}

	if len(c.Profiles) == 0 {
		c.Profiles = []ProfileConfig{
			{
				IdentityID:     "dev-owner",
				Role:           "owner",
				OrganizationID: "dev-gym",
				DisplayName:    "Development Owner",
			},
		}
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless told otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	// Gate defaults
	if c.Gate.LoginPath == "" {
		c.Gate.LoginPath = "/login"
	}
	if c.Gate.DefaultReturnPath == "" {
		c.Gate.DefaultReturnPath = "/dashboard"
	}
	if c.Gate.ProfileWait == "" {
		c.Gate.ProfileWait = "250ms"
	}
	if c.Gate.ProfileTimeout == "" {
		c.Gate.ProfileTimeout = "5s"
	}
	if c.Gate.ProfileTTL == "" {
		c.Gate.ProfileTTL = "5m"
	}
	if c.Gate.GuardSweepInterval == "" {
		c.Gate.GuardSweepInterval = "5m"
	}
	if c.Gate.GuardMaxIdle == "" {
		c.Gate.GuardMaxIdle = "30m"
	}

	if c.Throttle.CleanupInterval == "" {
		c.Throttle.CleanupInterval = "1m"
	}

	// Lockout defaults
	if c.Lockout.Threshold == 0 {
		c.Lockout.Threshold = 5
	}
	if c.Lockout.Duration == "" {
		c.Lockout.Duration = "15m"
	}
	if c.Lockout.MaxDuration == "" {
		c.Lockout.MaxDuration = "24h"
	}
	if !viper.IsSet("lockout.escalate") {
		c.Lockout.Escalate = true
	}
	if c.Lockout.Retention == "" {
		c.Lockout.Retention = "24h"
	}

	// Per-IP limiter is on unless explicitly disabled.
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.IPRate == 0 {
		c.RateLimit.IPRate = 300
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 30
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "3m"
	}

	if c.MFA.VerifiedTTL == "" {
		c.MFA.VerifiedTTL = "12h"
	}

	// Audit defaults
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 50
	}

	if c.Tracing.Output == "" {
		c.Tracing.Output = "stdout"
	}
}

// Duration parses a validated duration field. Unparseable values return
// fallback; Validate rejects them before this is reached.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// ThrottleLimits converts the configured action limits. Actions with an
// unparseable window are skipped; Validate reports them first.
func (c *Config) ThrottleLimits() map[string]ratelimit.Config {
	if len(c.Throttle.Limits) == 0 {
		return nil
	}
	limits := make(map[string]ratelimit.Config, len(c.Throttle.Limits))
	for action, l := range c.Throttle.Limits {
		window, err := time.ParseDuration(l.Window)
		if err != nil {
			continue
		}
		limits[action] = ratelimit.Config{MaxRequests: l.MaxRequests, Window: window}
	}
	return limits
}

// LockoutPolicy converts the lockout section.
func (c *Config) LockoutPolicy() ratelimit.LockoutPolicy {
	return ratelimit.LockoutPolicy{
		Threshold:   c.Lockout.Threshold,
		Duration:    Duration(c.Lockout.Duration, 15*time.Minute),
		MaxDuration: Duration(c.Lockout.MaxDuration, 24*time.Hour),
		Escalate:    c.Lockout.Escalate,
	}
}
