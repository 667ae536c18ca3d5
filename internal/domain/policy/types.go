// Package policy contains the static policy catalog: the ordered role
// hierarchy and the capabilities each role is allowed to use.
package policy

import (
	"fmt"
	"strings"
)

// Role is a staff or member role within an organization.
// The numeric value is the role level; "at least this senior" checks
// compare levels, not set membership.
type Role int

const (
	// RoleMember is a gym member with self-service access.
	RoleMember Role = iota + 1
	// RoleTrainer runs classes and sees assigned members.
	RoleTrainer
	// RoleStaff handles front desk operations.
	RoleStaff
	// RoleManager runs a location.
	RoleManager
	// RoleOwner owns the organization.
	RoleOwner
)

// MinRoleLevel and MaxRoleLevel bound the valid role levels.
const (
	MinRoleLevel = int(RoleMember)
	MaxRoleLevel = int(RoleOwner)
)

var roleNames = [...]string{
	RoleMember:  "member",
	RoleTrainer: "trainer",
	RoleStaff:   "staff",
	RoleManager: "manager",
	RoleOwner:   "owner",
}

var roleDisplayNames = [...]string{
	RoleMember:  "Member",
	RoleTrainer: "Trainer",
	RoleStaff:   "Staff",
	RoleManager: "Manager",
	RoleOwner:   "Owner",
}

// AllRoles returns every role in ascending level order.
func AllRoles() []Role {
	return []Role{RoleMember, RoleTrainer, RoleStaff, RoleManager, RoleOwner}
}

// IsValid returns true if the role is a known role.
func (r Role) IsValid() bool {
	return r >= RoleMember && r <= RoleOwner
}

// Level returns the ordinal level of the role.
// Panics on an unknown role.
func (r Role) Level() int {
	mustBeValid(r)
	return int(r)
}

// String returns the lower-case role name used in config and on the wire.
func (r Role) String() string {
	if !r.IsValid() {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// DisplayName returns the capitalized role name shown to users.
func (r Role) DisplayName() string {
	mustBeValid(r)
	return roleDisplayNames[r]
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole parses a role name (case-insensitive).
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, r := range AllRoles() {
		if roleNames[r] == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// RoleLevel returns the ordinal level of role. Panics on an unknown role.
func RoleLevel(role Role) int {
	return role.Level()
}

// MeetsLevel reports whether role is at least minimumLevel.
func MeetsLevel(role Role, minimumLevel int) bool {
	return role.Level() >= minimumLevel
}

// RoleForLevel returns the role with the given level.
// Levels outside the hierarchy are clamped.
func RoleForLevel(level int) Role {
	if level < MinRoleLevel {
		return RoleMember
	}
	if level > MaxRoleLevel {
		return RoleOwner
	}
	return Role(level)
}

func mustBeValid(r Role) {
	if !r.IsValid() {
		panic(fmt.Sprintf("policy: unknown role %d", int(r)))
	}
}
