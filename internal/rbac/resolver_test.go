// AngelaMos | 2026
// resolver_test.go

package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func activeRole(id, name string) Role {
	return Role{ID: id, Name: name, IsActive: true}
}

func testAssignment(id string, role Role, primary bool) RoleAssignment {
	return RoleAssignment{
		ID:        id,
		RoleID:    role.ID,
		IsPrimary: primary,
		Role:      role,
	}
}

func testRolePerm(roleID, code string) RolePermission {
	return RolePermission{
		RoleID:     roleID,
		Permission: Permission{Code: code, IsActive: true},
	}
}

func testOverride(code string, effect OverrideEffect) PermissionOverride {
	return PermissionOverride{
		Effect:     effect,
		Permission: Permission{Code: code, IsActive: true},
	}
}

func TestResolveAdminWildcard(t *testing.T) {
	admin := Role{ID: "r1", Name: "admin", IsAdmin: true, IsActive: true}

	got := Resolve(
		[]RoleAssignment{testAssignment("a1", admin, true)},
		[]RolePermission{testRolePerm("r1", "users:read")},
		[]PermissionOverride{testOverride("users:read", EffectDeny)},
		testNow,
	)

	require.True(t, got.IsAdmin)
	assert.Equal(t, []string{Wildcard}, got.Permissions)
	assert.Equal(t, "admin", got.PrimaryRole)

	// Overrides never apply to admins, and Has grants everything.
	assert.True(t, got.Has("users:read"))
	assert.True(t, got.Has("anything:at_all"))
}

func TestResolveRolePermissionsUnion(t *testing.T) {
	medico := activeRole("r1", "medico")
	triage := activeRole("r2", "triage")

	got := Resolve(
		[]RoleAssignment{
			testAssignment("a1", medico, true),
			testAssignment("a2", triage, false),
		},
		[]RolePermission{
			testRolePerm("r1", "patients:read"),
			testRolePerm("r1", "patients:write"),
			testRolePerm("r2", "patients:read"),
			testRolePerm("r2", "queue:manage"),
		},
		nil,
		testNow,
	)

	assert.Equal(
		t,
		[]string{"patients:read", "patients:write", "queue:manage"},
		got.Permissions,
	)
	assert.Equal(t, "medico", got.PrimaryRole)
	assert.ElementsMatch(t, []string{"medico", "triage"}, got.Roles)
	assert.False(t, got.IsAdmin)
}

func TestResolveOverridePrecedenceOrderIndependent(t *testing.T) {
	role := activeRole("r1", "medico")
	assignments := []RoleAssignment{testAssignment("a1", role, true)}
	rolePerms := []RolePermission{
		testRolePerm("r1", "patients:read"),
		testRolePerm("r1", "patients:write"),
	}

	allow := testOverride("reports:export", EffectAllow)
	deny := testOverride("patients:write", EffectDeny)

	forward := Resolve(
		assignments,
		rolePerms,
		[]PermissionOverride{allow, deny},
		testNow,
	)
	reversed := Resolve(
		assignments,
		rolePerms,
		[]PermissionOverride{deny, allow},
		testNow,
	)

	want := []string{"patients:read", "reports:export"}
	assert.Equal(t, want, forward.Permissions)
	assert.Equal(t, want, reversed.Permissions)
}

func TestResolveAllowBeatsDenyOnSameCode(t *testing.T) {
	// A DENY only strips the role-derived grant; an active ALLOW on the
	// same code is applied afterwards regardless of slice order.
	role := activeRole("r1", "medico")
	allow := testOverride("patients:write", EffectAllow)
	deny := testOverride("patients:write", EffectDeny)

	for _, overrides := range [][]PermissionOverride{
		{allow, deny},
		{deny, allow},
	} {
		got := Resolve(
			[]RoleAssignment{testAssignment("a1", role, true)},
			[]RolePermission{testRolePerm("r1", "patients:write")},
			overrides,
			testNow,
		)
		assert.True(t, got.Has("patients:write"))
	}
}

func TestResolveExpiredOverrideIgnored(t *testing.T) {
	role := activeRole("r1", "medico")
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	expired := testOverride("reports:export", EffectAllow)
	expired.ExpiresAt = &past

	live := testOverride("patients:write", EffectDeny)
	live.ExpiresAt = &future

	got := Resolve(
		[]RoleAssignment{testAssignment("a1", role, true)},
		[]RolePermission{
			testRolePerm("r1", "patients:read"),
			testRolePerm("r1", "patients:write"),
		},
		[]PermissionOverride{expired, live},
		testNow,
	)

	assert.Equal(t, []string{"patients:read"}, got.Permissions)
}

func TestResolveExpiryBoundary(t *testing.T) {
	o := testOverride("reports:export", EffectAllow)
	exact := testNow
	o.ExpiresAt = &exact

	// expires_at == now means expired.
	assert.False(t, o.ActiveAt(testNow))
	assert.True(t, o.ActiveAt(testNow.Add(-time.Nanosecond)))
}

func TestResolveRevokedStateSkipped(t *testing.T) {
	role := activeRole("r1", "medico")
	revokedAt := testNow.Add(-time.Minute)

	revokedAssignment := testAssignment("a2", activeRole("r2", "triage"), false)
	revokedAssignment.RevokedAt = &revokedAt

	revokedPerm := testRolePerm("r1", "patients:write")
	revokedPerm.RevokedAt = &revokedAt

	revokedOverride := testOverride("reports:export", EffectAllow)
	revokedOverride.RevokedAt = &revokedAt

	got := Resolve(
		[]RoleAssignment{testAssignment("a1", role, true), revokedAssignment},
		[]RolePermission{
			testRolePerm("r1", "patients:read"),
			revokedPerm,
			testRolePerm("r2", "queue:manage"),
		},
		[]PermissionOverride{revokedOverride},
		testNow,
	)

	assert.Equal(t, []string{"patients:read"}, got.Permissions)
	assert.Equal(t, []string{"medico"}, got.Roles)
}

func TestResolveInactiveRoleContributesNothing(t *testing.T) {
	inactive := Role{ID: "r1", Name: "medico", IsActive: false}

	got := Resolve(
		[]RoleAssignment{testAssignment("a1", inactive, true)},
		[]RolePermission{testRolePerm("r1", "patients:read")},
		nil,
		testNow,
	)

	assert.Empty(t, got.Permissions)
	assert.Empty(t, got.PrimaryRole)
}

func TestResolveInactivePermissionIgnored(t *testing.T) {
	role := activeRole("r1", "medico")

	disabled := testRolePerm("r1", "legacy:feature")
	disabled.Permission.IsActive = false

	disabledAllow := testOverride("legacy:other", EffectAllow)
	disabledAllow.Permission.IsActive = false

	got := Resolve(
		[]RoleAssignment{testAssignment("a1", role, true)},
		[]RolePermission{testRolePerm("r1", "patients:read"), disabled},
		[]PermissionOverride{disabledAllow},
		testNow,
	)

	assert.Equal(t, []string{"patients:read"}, got.Permissions)
}

func TestResolvePrimaryRoleFallback(t *testing.T) {
	// No assignment flagged primary: the lowest assignment id wins, so the
	// answer is stable across query ordering.
	medico := activeRole("r1", "medico")
	medico.LandingRoute = "/consultas"
	triage := activeRole("r2", "triage")
	triage.LandingRoute = "/triage"

	got := Resolve(
		[]RoleAssignment{
			testAssignment("a2", triage, false),
			testAssignment("a1", medico, false),
		},
		nil,
		nil,
		testNow,
	)

	assert.Equal(t, "medico", got.PrimaryRole)
	assert.Equal(t, "/consultas", got.LandingRoute)
}

func TestResolvePrimaryFlagWins(t *testing.T) {
	medico := activeRole("r1", "medico")
	triage := activeRole("r2", "triage")
	triage.LandingRoute = "/triage"

	got := Resolve(
		[]RoleAssignment{
			testAssignment("a1", medico, false),
			testAssignment("a2", triage, true),
		},
		nil,
		nil,
		testNow,
	)

	assert.Equal(t, "triage", got.PrimaryRole)
	assert.Equal(t, "/triage", got.LandingRoute)
}

func TestResolveNoAssignments(t *testing.T) {
	got := Resolve(nil, nil, nil, testNow)

	assert.NotNil(t, got.Permissions)
	assert.Empty(t, got.Permissions)
	assert.Empty(t, got.PrimaryRole)
	assert.False(t, got.IsAdmin)
	assert.False(t, got.Has("patients:read"))
}

func TestResolveOutputSorted(t *testing.T) {
	role := activeRole("r1", "medico")

	got := Resolve(
		[]RoleAssignment{testAssignment("a1", role, true)},
		[]RolePermission{
			testRolePerm("r1", "queue:manage"),
			testRolePerm("r1", "patients:read"),
			testRolePerm("r1", "reports:export"),
		},
		nil,
		testNow,
	)

	assert.Equal(
		t,
		[]string{"patients:read", "queue:manage", "reports:export"},
		got.Permissions,
	)
}
