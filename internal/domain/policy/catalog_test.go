package policy

import (
	"encoding/json"
	"testing"
)

func TestRoleLevel_Ordinals(t *testing.T) {
	tests := []struct {
		role  Role
		level int
	}{
		{RoleMember, 1},
		{RoleTrainer, 2},
		{RoleStaff, 3},
		{RoleManager, 4},
		{RoleOwner, 5},
	}
	for _, tt := range tests {
		if got := RoleLevel(tt.role); got != tt.level {
			t.Errorf("RoleLevel(%s) = %d, want %d", tt.role, got, tt.level)
		}
	}
}

func TestMeetsLevel(t *testing.T) {
	for _, role := range AllRoles() {
		for min := 0; min <= MaxRoleLevel+1; min++ {
			want := int(role) >= min
			if got := MeetsLevel(role, min); got != want {
				t.Errorf("MeetsLevel(%s, %d) = %v, want %v", role, min, got, want)
			}
		}
	}

	if !MeetsLevel(RoleStaff, 2) {
		t.Error("staff(3) >= 2 should be true")
	}
	if MeetsLevel(RoleMember, 2) {
		t.Error("member(1) >= 2 should be false")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"member", RoleMember, false},
		{"Trainer", RoleTrainer, false},
		{" STAFF ", RoleStaff, false},
		{"manager", RoleManager, false},
		{"owner", RoleOwner, false},
		{"admin", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRole_TextRoundTrip(t *testing.T) {
	type wrapper struct {
		Role Role `json:"role"`
	}
	data, err := json.Marshal(wrapper{Role: RoleManager})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if string(data) != `{"role":"manager"}` {
		t.Errorf("Marshal() = %s", data)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"role":"trainer"}`), &w); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if w.Role != RoleTrainer {
		t.Errorf("Role = %v, want trainer", w.Role)
	}

	if err := json.Unmarshal([]byte(`{"role":"janitor"}`), &w); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestRole_DisplayName(t *testing.T) {
	if got := RoleStaff.DisplayName(); got != "Staff" {
		t.Errorf("DisplayName() = %q, want Staff", got)
	}
}

func TestRole_InvalidPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown role")
		}
	}()
	_ = Role(9).Level()
}

func TestDefaultCatalog_MatchesDefinitions(t *testing.T) {
	c := DefaultCatalog()

	if len(c.Capabilities()) != len(defaultDefs) {
		t.Fatalf("Capabilities() = %d entries, want %d", len(c.Capabilities()), len(defaultDefs))
	}

	for capability, allowed := range defaultDefs {
		listed := make(map[Role]bool, len(allowed))
		for _, r := range allowed {
			listed[r] = true
		}
		for _, role := range AllRoles() {
			got := c.Allows(capability, role)
			if got != listed[role] {
				t.Errorf("Allows(%s, %s) = %v, want %v", capability, role, got, listed[role])
			}
			// Deterministic across calls.
			if c.Allows(capability, role) != got {
				t.Errorf("Allows(%s, %s) not deterministic", capability, role)
			}
		}
	}
}

func TestDefaultCatalog_OwnerAllowedEverywhere(t *testing.T) {
	c := DefaultCatalog()
	for _, capability := range c.Capabilities() {
		if !c.Allows(capability, RoleOwner) {
			t.Errorf("owner should be allowed %s", capability)
		}
	}
}

func TestCatalog_UnknownCapabilityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown capability")
		}
	}()
	DefaultCatalog().Allows("does.not.exist", RoleOwner)
}

func TestCatalog_Has(t *testing.T) {
	c := DefaultCatalog()
	if !c.Has(CapabilityManageBilling) {
		t.Error("expected billing.manage to be defined")
	}
	if c.Has("nope") {
		t.Error("unexpected capability")
	}
}

func TestCatalog_AllowedRoles(t *testing.T) {
	got := DefaultCatalog().AllowedRoles(CapabilityCheckIn)
	want := []Role{RoleStaff, RoleManager, RoleOwner}
	if len(got) != len(want) {
		t.Fatalf("AllowedRoles() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AllowedRoles()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNewCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		defs map[Capability][]Role
	}{
		{"empty name", map[Capability][]Role{"": {RoleOwner}}},
		{"no roles", map[Capability][]Role{"x.view": nil}},
		{"bad role", map[Capability][]Role{"x.view": {Role(42)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCatalog(tt.defs); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRoleForLevel(t *testing.T) {
	if RoleForLevel(0) != RoleMember {
		t.Error("level 0 should clamp to member")
	}
	if RoleForLevel(3) != RoleStaff {
		t.Error("level 3 should be staff")
	}
	if RoleForLevel(10) != RoleOwner {
		t.Error("level 10 should clamp to owner")
	}
}
