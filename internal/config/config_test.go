package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"server.http_addr", cfg.Server.HTTPAddr, "127.0.0.1:8080"},
		{"server.log_level", cfg.Server.LogLevel, "info"},
		{"gate.login_path", cfg.Gate.LoginPath, "/login"},
		{"gate.default_return_path", cfg.Gate.DefaultReturnPath, "/dashboard"},
		{"gate.profile_wait", cfg.Gate.ProfileWait, "250ms"},
		{"gate.profile_ttl", cfg.Gate.ProfileTTL, "5m"},
		{"lockout.threshold", cfg.Lockout.Threshold, 5},
		{"lockout.duration", cfg.Lockout.Duration, "15m"},
		{"lockout.escalate", cfg.Lockout.Escalate, true},
		{"rate_limit.enabled", cfg.RateLimit.Enabled, true},
		{"rate_limit.ip_rate", cfg.RateLimit.IPRate, 300},
		{"rate_limit.burst", cfg.RateLimit.Burst, 30},
		{"mfa.verified_ttl", cfg.MFA.VerifiedTTL, "12h"},
		{"audit.output", cfg.Audit.Output, "stdout"},
		{"audit.channel_size", cfg.Audit.ChannelSize, 1000},
		{"audit.send_timeout", cfg.Audit.SendTimeout, "100ms"},
		{"audit.buffer_size", cfg.Audit.BufferSize, 1000},
		{"audit.retention_days", cfg.Audit.RetentionDays, 30},
		{"audit.max_file_size_mb", cfg.Audit.MaxFileSizeMB, 50},
		{"tracing.output", cfg.Tracing.Output, "stdout"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:    ServerConfig{HTTPAddr: ":9090"},
		Gate:      GateConfig{LoginPath: "/sign-in", ProfileWait: "1s"},
		Lockout:   LockoutConfig{Threshold: 3, Duration: "5m"},
		RateLimit: RateLimitConfig{IPRate: 50, Burst: 5},
		Audit:     AuditConfig{Output: "sqlite:///var/lib/gymgate/audit.db"},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Gate.LoginPath != "/sign-in" || cfg.Gate.ProfileWait != "1s" {
		t.Errorf("Gate was overwritten: %+v", cfg.Gate)
	}
	if cfg.Lockout.Threshold != 3 || cfg.Lockout.Duration != "5m" {
		t.Errorf("Lockout was overwritten: %+v", cfg.Lockout)
	}
	if cfg.RateLimit.IPRate != 50 || cfg.RateLimit.Burst != 5 {
		t.Errorf("RateLimit was overwritten: %+v", cfg.RateLimit)
	}
	if cfg.Audit.Output != "sqlite:///var/lib/gymgate/audit.db" {
		t.Errorf("Audit.Output was overwritten: got %q", cfg.Audit.Output)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	var off Config
	off.SetDevDefaults()
	if len(off.Auth.Identities) != 0 {
		t.Error("SetDevDefaults should do nothing outside dev mode")
	}

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if len(cfg.Auth.Identities) != 1 || cfg.Auth.Identities[0].ID != "dev-owner" {
		t.Fatalf("Identities = %+v", cfg.Auth.Identities)
	}
	if len(cfg.Profiles) != 1 || cfg.Profiles[0].Role != "owner" {
		t.Fatalf("Profiles = %+v", cfg.Profiles)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("dev config should validate: %v", err)
	}
}

func TestConfig_ThrottleLimitsAndLockoutPolicy(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Throttle: ThrottleConfig{Limits: map[string]LimitConfig{
			"password_reset": {MaxRequests: 2, Window: "30m"},
		}},
		Lockout: LockoutConfig{Threshold: 4, Duration: "10m", MaxDuration: "1h", Escalate: true},
	}

	limits := cfg.ThrottleLimits()
	if got := limits["password_reset"]; got.MaxRequests != 2 || got.Window != 30*time.Minute {
		t.Errorf("ThrottleLimits()[password_reset] = %+v", got)
	}
	if (&Config{}).ThrottleLimits() != nil {
		t.Error("no configured limits should return nil so defaults apply")
	}

	p := cfg.LockoutPolicy()
	if p.Threshold != 4 || p.Duration != 10*time.Minute || p.MaxDuration != time.Hour || !p.Escalate {
		t.Errorf("LockoutPolicy() = %+v", p)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	if got := Duration("250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("Duration(250ms) = %v", got)
	}
	if got := Duration("soon", time.Second); got != time.Second {
		t.Errorf("Duration(soon) = %v, want fallback", got)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "gymgate.yaml")
	content := `
server:
  http_addr: "127.0.0.1:9191"
auth:
  identities:
    - id: owner-1
      name: Jordan
      email: jordan@example.com
  api_keys:
    - key_hash: "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274"
      identity_id: owner-1
profiles:
  - identity_id: owner-1
    role: Owner
    organization_id: gym-1
throttle:
  limits:
    invite:
      max_requests: 10
      window: 1h
lockout:
  escalate: false
rate_limit:
  enabled: false
rules:
  granular:
    - key: "reports.*"
      condition: 'at_least(role, "manager")'
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GYMGATE_LOCKOUT_THRESHOLD", "7")

	InitViper(path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed() = %q", ConfigFileUsed())
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9191" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Lockout.Threshold != 7 {
		t.Errorf("Lockout.Threshold = %d, want env override 7", cfg.Lockout.Threshold)
	}
	if cfg.Lockout.Escalate {
		t.Error("explicit escalate: false should be kept")
	}
	if cfg.RateLimit.Enabled {
		t.Error("explicit rate_limit.enabled: false should be kept")
	}
	if cfg.Throttle.Limits["invite"].MaxRequests != 10 {
		t.Errorf("Throttle.Limits = %+v", cfg.Throttle.Limits)
	}
	if len(cfg.Rules.Granular) != 1 {
		t.Errorf("Rules.Granular = %+v", cfg.Rules.Granular)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "gymgate.yaml")
	if err := os.WriteFile(path, []byte("audit:\n  output: syslog\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	InitViper(path)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() should reject an unknown audit output")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gymgate.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gymgate.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "gymgate" with no extension
	_ = os.WriteFile(filepath.Join(dir, "gymgate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "gymgate.yaml")
	ymlPath := filepath.Join(dir, "gymgate.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
