package policy

import (
	"fmt"
	"sort"
)

// Capability is a named static permission gating a dashboard feature.
type Capability string

// Capabilities defined in the default catalog.
const (
	CapabilityViewDashboard      Capability = "dashboard.view"
	CapabilityViewOwnProfile     Capability = "profile.view_own"
	CapabilityBookClasses        Capability = "classes.book"
	CapabilityViewMembers        Capability = "members.view"
	CapabilityManageMembers      Capability = "members.manage"
	CapabilityCheckIn            Capability = "checkin.perform"
	CapabilityViewSchedule       Capability = "schedule.view"
	CapabilityManageClasses      Capability = "classes.manage"
	CapabilityManageTrainers     Capability = "trainers.manage"
	CapabilityManageStaff        Capability = "staff.manage"
	CapabilityViewReports        Capability = "reports.view"
	CapabilityManageBilling      Capability = "billing.manage"
	CapabilityManageInventory    Capability = "inventory.manage"
	CapabilityManageMarketing    Capability = "marketing.manage"
	CapabilityManageSettings     Capability = "settings.manage"
	CapabilityManageOrganization Capability = "organization.manage"
	CapabilityViewAuditLog       Capability = "audit.view"
)

// roleSet is a bitmask of roles, indexed by role level.
type roleSet uint8

func newRoleSet(roles ...Role) roleSet {
	var s roleSet
	for _, r := range roles {
		mustBeValid(r)
		s |= 1 << uint(r)
	}
	return s
}

func (s roleSet) has(r Role) bool {
	return s&(1<<uint(r)) != 0
}

func (s roleSet) roles() []Role {
	var out []Role
	for _, r := range AllRoles() {
		if s.has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Catalog maps capabilities to the roles allowed to use them.
// A Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	entries map[Capability]roleSet
}

// NewCatalog builds a catalog from capability definitions.
// Every capability must list at least one role.
func NewCatalog(defs map[Capability][]Role) (*Catalog, error) {
	entries := make(map[Capability]roleSet, len(defs))
	for c, roles := range defs {
		if c == "" {
			return nil, fmt.Errorf("capability name is empty")
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("capability %q has no allowed roles", c)
		}
		for _, r := range roles {
			if !r.IsValid() {
				return nil, fmt.Errorf("capability %q references unknown role %d", c, int(r))
			}
		}
		entries[c] = newRoleSet(roles...)
	}
	return &Catalog{entries: entries}, nil
}

// MustNewCatalog is like NewCatalog but panics on error.
func MustNewCatalog(defs map[Capability][]Role) *Catalog {
	c, err := NewCatalog(defs)
	if err != nil {
		panic("policy: " + err.Error())
	}
	return c
}

// Allows reports whether role may use capability.
// Panics if the capability is not in the catalog or the role is unknown.
func (c *Catalog) Allows(capability Capability, role Role) bool {
	mustBeValid(role)
	set, ok := c.entries[capability]
	if !ok {
		panic(fmt.Sprintf("policy: unknown capability %q", capability))
	}
	return set.has(role)
}

// Has reports whether the capability is defined.
func (c *Catalog) Has(capability Capability) bool {
	_, ok := c.entries[capability]
	return ok
}

// AllowedRoles returns the roles allowed to use capability in level order.
// Panics if the capability is not in the catalog.
func (c *Catalog) AllowedRoles(capability Capability) []Role {
	set, ok := c.entries[capability]
	if !ok {
		panic(fmt.Sprintf("policy: unknown capability %q", capability))
	}
	return set.roles()
}

// Capabilities returns all capabilities sorted by name.
func (c *Catalog) Capabilities() []Capability {
	out := make([]Capability, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	everyone    = []Role{RoleMember, RoleTrainer, RoleStaff, RoleManager, RoleOwner}
	coaching    = []Role{RoleTrainer, RoleStaff, RoleManager, RoleOwner}
	frontDesk   = []Role{RoleStaff, RoleManager, RoleOwner}
	management  = []Role{RoleManager, RoleOwner}
	ownersOnly  = []Role{RoleOwner}
	defaultDefs = map[Capability][]Role{
		CapabilityViewDashboard:      everyone,
		CapabilityViewOwnProfile:     everyone,
		CapabilityBookClasses:        everyone,
		CapabilityViewMembers:        coaching,
		CapabilityViewSchedule:       coaching,
		CapabilityCheckIn:            frontDesk,
		CapabilityManageMembers:      frontDesk,
		CapabilityManageClasses:      management,
		CapabilityManageTrainers:     management,
		CapabilityManageStaff:        management,
		CapabilityViewReports:        management,
		CapabilityManageInventory:    management,
		CapabilityManageMarketing:    management,
		CapabilityManageBilling:      ownersOnly,
		CapabilityManageSettings:     ownersOnly,
		CapabilityManageOrganization: ownersOnly,
		CapabilityViewAuditLog:       ownersOnly,
	}
	defaultCatalog = MustNewCatalog(defaultDefs)
)

// DefaultCatalog returns the process-wide capability catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}
