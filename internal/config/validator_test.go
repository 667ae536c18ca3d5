package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	cfg := &Config{
		Auth: AuthConfig{
			Identities: []IdentityConfig{{ID: "owner-1", Name: "Jordan", Email: "jordan@example.com"}},
			APIKeys:    []APIKeyConfig{{KeyHash: "sha256:abc123", IdentityID: "owner-1"}},
		},
		Profiles: []ProfileConfig{{IdentityID: "owner-1", Role: "owner", OrganizationID: "gym-1"}},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	if err := minimalValidConfig().Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid audit output",
			mutate:  func(c *Config) { c.Audit.Output = "invalid" },
			wantErr: "Audit.Output",
		},
		{
			name:    "relative audit file",
			mutate:  func(c *Config) { c.Audit.Output = "file://relative/path" },
			wantErr: "Audit.Output",
		},
		{
			name:    "relative sqlite path",
			mutate:  func(c *Config) { c.Audit.Output = "sqlite://audit.db" },
			wantErr: "sqlite://",
		},
		{
			name:    "relative lockout state file",
			mutate:  func(c *Config) { c.Lockout.StateFile = "lockouts.json" },
			wantErr: "must be an absolute path",
		},
		{
			name:    "unknown api key identity",
			mutate:  func(c *Config) { c.Auth.APIKeys[0].IdentityID = "unknown-user" },
			wantErr: "api_keys[0]: references unknown identity_id",
		},
		{
			name:    "unknown profile identity",
			mutate:  func(c *Config) { c.Profiles[0].IdentityID = "ghost" },
			wantErr: "profiles[0]: references unknown identity_id",
		},
		{
			name: "duplicate profile",
			mutate: func(c *Config) {
				c.Profiles = append(c.Profiles, ProfileConfig{IdentityID: "owner-1", Role: "member"})
			},
			wantErr: "duplicate profile",
		},
		{
			name: "duplicate identity",
			mutate: func(c *Config) {
				c.Auth.Identities = append(c.Auth.Identities, IdentityConfig{ID: "owner-1", Name: "Again"})
			},
			wantErr: "duplicate id",
		},
		{
			name:    "unknown role",
			mutate:  func(c *Config) { c.Profiles[0].Role = "janitor" },
			wantErr: "must be one of: member, trainer",
		},
		{
			name:    "bad key hash",
			mutate:  func(c *Config) { c.Auth.APIKeys[0].KeyHash = "md5:abc" },
			wantErr: "argon2id",
		},
		{
			name:    "bad duration",
			mutate:  func(c *Config) { c.Gate.ProfileWait = "soon" },
			wantErr: "Gate.ProfileWait must be a duration",
		},
		{
			name:    "relative login path",
			mutate:  func(c *Config) { c.Gate.LoginPath = "login" },
			wantErr: "must start with",
		},
		{
			name: "zero throttle limit",
			mutate: func(c *Config) {
				c.Throttle.Limits = map[string]LimitConfig{"invite": {MaxRequests: 0, Window: "1h"}}
			},
			wantErr: "MaxRequests is required",
		},
		{
			name: "zero throttle window",
			mutate: func(c *Config) {
				c.Throttle.Limits = map[string]LimitConfig{"invite": {MaxRequests: 3, Window: "0s"}}
			},
			wantErr: "throttle.limits.invite: window must be positive",
		},
		{
			name: "max lockout below base",
			mutate: func(c *Config) {
				c.Lockout.Duration = "1h"
				c.Lockout.MaxDuration = "10m"
			},
			wantErr: "lockout:",
		},
		{
			name: "granular rule does not compile",
			mutate: func(c *Config) {
				c.Rules.Granular = []GranularRuleConfig{{Key: "reports.*", Condition: "role =="}}
			},
			wantErr: "rules.granular[0] (reports.*)",
		},
		{
			name: "mfa rule does not compile",
			mutate: func(c *Config) {
				c.Rules.MFA = []MFARuleConfig{{Route: "/billing", Condition: "unknown_var"}}
			},
			wantErr: "rules.mfa[0] (/billing)",
		},
		{
			name:    "tls cert without key",
			mutate:  func(c *Config) { c.Server.TLSCertFile = "/etc/gymgate/cert.pem" },
			wantErr: "TLSKeyFile is required when",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_ValidVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"audit file", func(c *Config) { c.Audit.Output = "file:///var/log/gymgate/audit.log" }},
		{"audit sqlite", func(c *Config) { c.Audit.Output = "sqlite:///var/lib/gymgate/audit.db" }},
		{"audit journal", func(c *Config) { c.Audit.Output = "dir:///var/lib/gymgate/audit" }},
		{"lockout state file", func(c *Config) { c.Lockout.StateFile = "/var/lib/gymgate/lockouts.json" }},
		{"argon2id key", func(c *Config) {
			c.Auth.APIKeys[0].KeyHash = "$argon2id$v=19$m=47104,t=1,p=1$abc$xyz"
		}},
		{"bare sha256 hex", func(c *Config) {
			c.Auth.APIKeys[0].KeyHash = "6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274"
		}},
		{"no identities", func(c *Config) {
			c.Auth = AuthConfig{}
			c.Profiles = nil
		}},
		{"mixed case role", func(c *Config) { c.Profiles[0].Role = "Manager" }},
		{"rules", func(c *Config) {
			c.Rules.Granular = []GranularRuleConfig{{Key: "reports.*", Condition: `at_least(role, "manager")`}, {Key: "schedule.view"}}
			c.Rules.MFA = []MFARuleConfig{{Route: "/billing/*", Condition: "true"}}
		}},
		{"throttle limits", func(c *Config) {
			c.Throttle.Limits = map[string]LimitConfig{"invite": {MaxRequests: 10, Window: "1h"}}
		}},
		{"send timeout zero", func(c *Config) { c.Audit.SendTimeout = "0s" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := minimalValidConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
