package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

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
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Rules: config.RulesConfig{
			Granular: []config.GranularRuleConfig{{Key: "reports.*", Condition: `at_least(role, "manager")`}},
			MFA:      []config.MFARuleConfig{{Route: "/billing*"}},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"start", "stop", "check", "catalog", "hash-key", "version"}
	registered := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Error("--config persistent flag missing")
	}
}

func TestHashAPIKey(t *testing.T) {
	got, err := hashAPIKey("dev-api-key", false)
	if err != nil {
		t.Fatalf("hashAPIKey() error: %v", err)
	}
	if got != "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274" {
		t.Errorf("hashAPIKey(sha256) = %q", got)
	}

	argon, err := hashAPIKey("dev-api-key", true)
	if err != nil {
		t.Fatalf("hashAPIKey(argon2id) error: %v", err)
	}
	ok, err := auth.VerifyKey("dev-api-key", argon)
	if err != nil || !ok {
		t.Errorf("VerifyKey(argon2id hash) = %v, %v", ok, err)
	}
}

func TestCatalogDocument(t *testing.T) {
	entries := catalogDocument(policy.DefaultCatalog())
	if len(entries) != len(policy.DefaultCatalog().Capabilities()) {
		t.Fatalf("catalogDocument() returned %d entries", len(entries))
	}

	out, err := yaml.Marshal(entries)
	if err != nil {
		t.Fatalf("yaml.Marshal() error: %v", err)
	}
	var decoded []catalogEntry
	if err := yaml.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("yaml.Unmarshal() error: %v", err)
	}
	for _, e := range decoded {
		if e.Capability == string(policy.CapabilityViewAuditLog) {
			if len(e.Roles) != 1 || e.Roles[0] != "owner" {
				t.Errorf("audit.view roles = %v, want [owner]", e.Roles)
			}
			return
		}
	}
	t.Error("audit.view missing from catalog output")
}

func TestCapabilitiesFor(t *testing.T) {
	doc := capabilitiesFor(policy.DefaultCatalog(), policy.RoleMember)
	if doc.Role != "member" || doc.Level != 1 {
		t.Errorf("capabilitiesFor(member) = %+v", doc)
	}
	has := map[string]bool{}
	for _, c := range doc.Capabilities {
		has[c] = true
	}
	if !has[string(policy.CapabilityViewDashboard)] {
		t.Error("member should view the dashboard")
	}
	if has[string(policy.CapabilityManageBilling)] {
		t.Error("member must not manage billing")
	}
}

func TestRunCheck(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name        string
		opts        checkOptions
		wantOutcome access.Outcome
		wantErr     bool
	}{
		{
			name:        "owner manages billing after mfa",
			opts:        checkOptions{route: "/billing", capability: "billing.manage", role: "owner", mfaVerified: true},
			wantOutcome: access.OutcomeAllowed,
		},
		{
			name:        "billing route asks for mfa first",
			opts:        checkOptions{route: "/billing", capability: "billing.manage", role: "owner"},
			wantOutcome: access.OutcomeMFARequired,
		},
		{
			name:        "manager cannot manage billing",
			opts:        checkOptions{route: "/settings/billing", capability: "billing.manage", role: "manager"},
			wantOutcome: access.OutcomeDenied,
		},
		{
			name:        "granular rule grants manager reports",
			opts:        checkOptions{route: "/reports", granularKey: "reports.revenue", role: "manager"},
			wantOutcome: access.OutcomeAllowed,
		},
		{
			name:        "granular rule refuses trainer reports",
			opts:        checkOptions{route: "/reports", granularKey: "reports.revenue", role: "trainer"},
			wantOutcome: access.OutcomeDenied,
		},
		{
			name:        "minimum level",
			opts:        checkOptions{route: "/staff", minLevel: 3, role: "trainer"},
			wantOutcome: access.OutcomeDenied,
		},
		{
			name:        "anonymous visitor",
			opts:        checkOptions{route: "/members", anonymous: true},
			wantOutcome: access.OutcomeUnauthenticated,
		},
		{
			name:        "session still loading",
			opts:        checkOptions{route: "/members", anonymous: true, loading: true},
			wantOutcome: access.OutcomePending,
		},
		{
			name:        "no profile yet",
			opts:        checkOptions{route: "/members", identity: "u-1"},
			wantOutcome: access.OutcomePending,
		},
		{
			name:        "profile lookup failed",
			opts:        checkOptions{route: "/members", identity: "u-1", profileError: "directory unavailable"},
			wantOutcome: access.OutcomeProfileError,
		},
		{
			name:    "unknown capability",
			opts:    checkOptions{route: "/x", capability: "pool.swim", role: "owner"},
			wantErr: true,
		},
		{
			name:    "unknown role",
			opts:    checkOptions{route: "/x", role: "janitor"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.opts.identity == "" {
				tt.opts.identity = "cli-user"
			}
			d, err := runCheck(cfg, tt.opts, discardLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("runCheck() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("runCheck() error: %v", err)
			}
			if d.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %v, want %v (decision %+v)", d.Outcome, tt.wantOutcome, d)
			}
		})
	}
}

func TestRunCheck_RedirectCarriesReturnPath(t *testing.T) {
	d, err := runCheck(testConfig(), checkOptions{route: "/members?tab=new", anonymous: true}, discardLogger())
	if err != nil {
		t.Fatalf("runCheck() error: %v", err)
	}

	var buf bytes.Buffer
	if err := writeDecision(&buf, d); err != nil {
		t.Fatalf("writeDecision() error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded["outcome"] != "unauthenticated" {
		t.Errorf("outcome = %v", decoded["outcome"])
	}
	target, _ := decoded["redirect_target"].(string)
	if !strings.HasPrefix(target, "/login?returnTo=") {
		t.Errorf("redirect_target = %q", target)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCreateAuditStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		output  string
		check   func(t *testing.T, store auditBackend)
		wantErr bool
	}{
		{
			name:   "stdout",
			output: "stdout",
			check: func(t *testing.T, store auditBackend) {
				if _, ok := store.(*memory.MemoryAuditStore); !ok {
					t.Errorf("store = %T, want *memory.MemoryAuditStore", store)
				}
			},
		},
		{
			name:   "file",
			output: "file://" + filepath.Join(dir, "audit.log"),
			check: func(t *testing.T, store auditBackend) {
				if _, err := os.Stat(filepath.Join(dir, "audit.log")); err != nil {
					t.Errorf("audit file not created: %v", err)
				}
			},
		},
		{
			name:   "journal directory",
			output: "dir://" + filepath.Join(dir, "journal"),
			check: func(t *testing.T, store auditBackend) {
				if _, ok := store.(*journal.Journal); !ok {
					t.Errorf("store = %T, want *journal.Journal", store)
				}
			},
		},
		{
			name:   "sqlite",
			output: "sqlite://" + filepath.Join(dir, "audit.db"),
			check: func(t *testing.T, store auditBackend) {
				if _, ok := store.(*sqlite.AuditStore); !ok {
					t.Errorf("store = %T, want *sqlite.AuditStore", store)
				}
			},
		},
		{
			name:    "unknown scheme",
			output:  "syslog://local",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Audit: config.AuditConfig{Output: tt.output, BufferSize: 10}}
			store, err := createAuditStore(ctx, cfg, discardLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("createAuditStore() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("createAuditStore() error: %v", err)
			}
			defer store.Close()
			tt.check(t, store)

			if err := store.Append(ctx, audit.Event{
				ID:        "evt-1",
				Kind:      audit.KindAccessDecision,
				Subject:   "/x",
				Outcome:   audit.OutcomeAllowed,
				Timestamp: time.Now().UTC(),
			}); err != nil {
				t.Fatalf("Append() error: %v", err)
			}
			events, err := store.Query(ctx, audit.Filter{})
			if err != nil || len(events) != 1 {
				t.Errorf("Query() = %d events, %v", len(events), err)
			}
		})
	}
}

func TestSeedFromConfig(t *testing.T) {
	cfg := &config.Config{
		Auth: config.AuthConfig{
			Identities: []config.IdentityConfig{{ID: "owner-1", Name: "Jordan"}},
			APIKeys:    []config.APIKeyConfig{{KeyHash: "sha256:" + auth.HashKey("owner-key"), IdentityID: "owner-1"}},
		},
		Profiles: []config.ProfileConfig{{IdentityID: "owner-1", Role: "Owner", OrganizationID: "gym-1"}},
	}

	authStore := memory.NewAuthStore()
	if err := seedAuthFromConfig(cfg, authStore); err != nil {
		t.Fatalf("seedAuthFromConfig() error: %v", err)
	}
	identity, err := auth.NewAPIKeyService(authStore).Authenticate(context.Background(), "owner-key")
	if err != nil || identity.ID != "owner-1" {
		t.Fatalf("Authenticate() = %+v, %v", identity, err)
	}

	dir := memory.NewProfileDirectory()
	if err := seedProfilesFromConfig(cfg, dir); err != nil {
		t.Fatalf("seedProfilesFromConfig() error: %v", err)
	}
	p, err := dir.FetchProfile(context.Background(), "owner-1")
	if err != nil || p.Role != policy.RoleOwner {
		t.Errorf("FetchProfile() = %+v, %v", p, err)
	}

	dup := &config.Config{Auth: config.AuthConfig{Identities: []config.IdentityConfig{
		{ID: "a", Email: "front@gym.io"},
		{ID: "b", Email: "Front@Gym.io"},
	}}}
	if err := seedAuthFromConfig(dup, memory.NewAuthStore()); !errors.Is(err, memory.ErrLoginTaken) {
		t.Errorf("duplicate login email error = %v, want ErrLoginTaken", err)
	}

	cfg.Profiles[0].Role = "janitor"
	if err := seedProfilesFromConfig(cfg, memory.NewProfileDirectory()); err == nil {
		t.Error("unknown role should fail seeding")
	}
}

func TestLockoutPersistence(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()
	policy := ratelimit.LockoutPolicy{Threshold: 2, Duration: time.Hour}
	store := state.NewFileStore(filepath.Join(t.TempDir(), "lockouts.json"), logger)

	before := memory.NewLockoutStore(policy, 24*time.Hour, logger)
	before.RecordFailure(ctx, "ana@gym.io")
	before.RecordFailure(ctx, "ana@gym.io")
	saveLockouts(store, before, logger)

	after := memory.NewLockoutStore(policy, 24*time.Hour, logger)
	if err := restoreLockouts(store, after, logger); err != nil {
		t.Fatalf("restoreLockouts() error: %v", err)
	}
	st, _ := after.Status(ctx, "ana@gym.io")
	if !st.Locked {
		t.Errorf("lock should survive a restart, got %+v", st)
	}

	if err := restoreLockouts(nil, after, logger); err != nil {
		t.Errorf("restoreLockouts(nil) error: %v", err)
	}
	saveLockouts(nil, after, logger)
}

func TestThrottleLimitsOverlayDefaults(t *testing.T) {
	cfg := &config.Config{Throttle: config.ThrottleConfig{Limits: map[string]config.LimitConfig{
		"invite":      {MaxRequests: 10, Window: "1h"},
		"export_data":  {MaxRequests: 1, Window: "24h"},
	}}}

	limits := throttleLimits(cfg)
	if limits["invite"].MaxRequests != 10 {
		t.Errorf("invite = %+v, want configured override", limits["invite"])
	}
	if limits["export_data"].MaxRequests != 1 {
		t.Errorf("export_data = %+v, want configured action", limits["export_data"])
	}
	if limits["password_reset"].MaxRequests != 3 {
		t.Errorf("password_reset = %+v, want built-in default", limits["password_reset"])
	}
}

func TestSetupTracing(t *testing.T) {
	cfg := testConfig()

	tracer, shutdown, err := setupTracing(cfg, discardLogger())
	if err != nil {
		t.Fatalf("setupTracing(disabled) error: %v", err)
	}
	_, span := tracer.Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracing should produce no-op spans")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "traces.json")
	cfg.Tracing = config.TracingConfig{Enabled: true, Output: "file://" + path}
	tracer, shutdown, err = setupTracing(cfg, discardLogger())
	if err != nil {
		t.Fatalf("setupTracing(enabled) error: %v", err)
	}
	_, span = tracer.Start(context.Background(), "gate.evaluate")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if !strings.Contains(string(data), "gate.evaluate") {
		t.Errorf("trace file should contain the span, got %q", data)
	}
}

func TestTraceContextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newTraceContextHandler(slog.NewTextHandler(&buf, nil))).With("component", "test")

	logger.InfoContext(context.Background(), "outside span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Error("records outside a span should not carry trace_id")
	}
	buf.Reset()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "inside span")
	span.End()

	out := buf.String()
	if !strings.Contains(out, "trace_id="+span.SpanContext().TraceID().String()) {
		t.Errorf("log = %q, want trace_id", out)
	}
	if !strings.Contains(out, "span_id=") || !strings.Contains(out, "component=test") {
		t.Errorf("log = %q, want span_id and inherited attrs", out)
	}
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "server.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error: %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile() = %d, want %d", got, os.Getpid())
	}

	if got := readPIDFile(filepath.Join(dir, "missing.pid")); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}

	garbage := filepath.Join(dir, "garbage.pid")
	_ = os.WriteFile(garbage, []byte("not-a-pid"), 0o644)
	if got := readPIDFile(garbage); got != 0 {
		t.Errorf("readPIDFile(garbage) = %d, want 0", got)
	}
}

func TestStopServer_Errors(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	missing := filepath.Join(dir, "missing.pid")
	if err := stopServer(&out, missing, time.Second); err == nil || !strings.Contains(err.Error(), "no server PID file") {
		t.Errorf("stopServer(missing) error = %v", err)
	}

	garbage := filepath.Join(dir, "garbage.pid")
	_ = os.WriteFile(garbage, []byte("-4"), 0o644)
	if err := stopServer(&out, garbage, time.Second); err == nil {
		t.Error("stopServer(negative pid) should fail")
	}
}
