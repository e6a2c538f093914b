// AngelaMos | 2026
// resolver.go

package rbac

import (
	"sort"
	"time"
)

// Wildcard marks the full permission set granted by an admin role.
const Wildcard = "*"

// Effective is the resolved permission state for one user at one instant.
type Effective struct {
	Permissions  []string `json:"permissions"`
	IsAdmin      bool     `json:"is_admin"`
	PrimaryRole  string   `json:"primary_role"`
	LandingRoute string   `json:"landing_route,omitempty"`
	Roles        []string `json:"roles"`

	set map[string]struct{}
}

// Has reports whether the set grants the given permission code. The admin
// wildcard grants everything.
func (e *Effective) Has(code string) bool {
	if e.IsAdmin {
		return true
	}
	if e.set != nil {
		_, ok := e.set[code]
		return ok
	}
	for _, p := range e.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// Resolve computes a user's effective permission set from their role
// assignments, the permissions attached to those roles, and per-user
// overrides. It is a pure function: identical inputs and now produce
// identical, lexicographically sorted output.
//
// Precedence is order-independent: all active DENY overrides are discarded
// from the role-derived base before any active ALLOW override is added, so
// the result cannot depend on override iteration order. An active admin
// role short-circuits the permission set to the wildcard; overrides never
// apply to admins.
func Resolve(
	assignments []RoleAssignment,
	rolePerms []RolePermission,
	overrides []PermissionOverride,
	now time.Time,
) Effective {
	active := make([]RoleAssignment, 0, len(assignments))
	for _, a := range assignments {
		if a.IsActive() && a.Role.IsActive {
			active = append(active, a)
		}
	}

	out := Effective{
		Permissions: []string{},
		Roles:       make([]string, 0, len(active)),
	}

	for _, a := range active {
		out.Roles = append(out.Roles, a.Role.Name)
		if a.Role.IsAdmin {
			out.IsAdmin = true
		}
	}

	if len(active) > 0 {
		primary := active[0]
		found := false
		for _, a := range active {
			if a.IsPrimary {
				primary = a
				found = true
				break
			}
		}
		if !found {
			// Stable fallback: lowest assignment id wins.
			for _, a := range active[1:] {
				if a.ID < primary.ID {
					primary = a
				}
			}
		}
		out.PrimaryRole = primary.Role.Name
		out.LandingRoute = primary.Role.LandingRoute
	}

	if out.IsAdmin {
		out.Permissions = []string{Wildcard}
		out.set = map[string]struct{}{Wildcard: {}}
		return out
	}

	activeRoles := make(map[string]struct{}, len(active))
	for _, a := range active {
		activeRoles[a.RoleID] = struct{}{}
	}

	set := make(map[string]struct{})
	for _, rp := range rolePerms {
		if !rp.IsActive() || !rp.Permission.IsActive {
			continue
		}
		if _, ok := activeRoles[rp.RoleID]; !ok {
			continue
		}
		set[rp.Permission.Code] = struct{}{}
	}

	for _, o := range overrides {
		if o.Effect == EffectDeny && o.ActiveAt(now) && o.Permission.IsActive {
			delete(set, o.Permission.Code)
		}
	}
	for _, o := range overrides {
		if o.Effect == EffectAllow && o.ActiveAt(now) && o.Permission.IsActive {
			set[o.Permission.Code] = struct{}{}
		}
	}

	out.Permissions = make([]string, 0, len(set))
	for code := range set {
		out.Permissions = append(out.Permissions, code)
	}
	sort.Strings(out.Permissions)
	out.set = set

	return out
}
