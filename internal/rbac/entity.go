// AngelaMos | 2026
// entity.go

package rbac

import (
	"time"
)

type Role struct {
	ID           string    `db:"id"           json:"id"`
	Name         string    `db:"name"         json:"name"`
	Description  string    `db:"description"  json:"description"`
	LandingRoute string    `db:"landing_route" json:"landing_route"`
	IsAdmin      bool      `db:"is_admin"     json:"is_admin"`
	IsSystem     bool      `db:"is_system"    json:"is_system"`
	IsActive     bool      `db:"is_active"    json:"is_active"`
	CreatedAt    time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"   json:"updated_at"`
}

type Permission struct {
	ID          string    `db:"id"          json:"id"`
	Code        string    `db:"code"        json:"code"`
	Description string    `db:"description" json:"description"`
	IsSystem    bool      `db:"is_system"   json:"is_system"`
	IsActive    bool      `db:"is_active"   json:"is_active"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"  json:"updated_at"`
}

type RoleAssignment struct {
	ID         string     `db:"id"          json:"id"`
	UserID     string     `db:"user_id"     json:"user_id"`
	RoleID     string     `db:"role_id"     json:"role_id"`
	IsPrimary  bool       `db:"is_primary"  json:"is_primary"`
	AssignedAt time.Time  `db:"assigned_at" json:"assigned_at"`
	AssignedBy string     `db:"assigned_by" json:"assigned_by"`
	RevokedAt  *time.Time `db:"revoked_at"  json:"revoked_at,omitempty"`
	RevokedBy  *string    `db:"revoked_by"  json:"revoked_by,omitempty"`

	Role Role `db:"role" json:"role"`
}

func (a *RoleAssignment) IsActive() bool {
	return a.RevokedAt == nil
}

type RolePermission struct {
	ID           string     `db:"id"            json:"id"`
	RoleID       string     `db:"role_id"       json:"role_id"`
	PermissionID string     `db:"permission_id" json:"permission_id"`
	AssignedAt   time.Time  `db:"assigned_at"   json:"assigned_at"`
	AssignedBy   string     `db:"assigned_by"   json:"assigned_by"`
	RevokedAt    *time.Time `db:"revoked_at"    json:"revoked_at,omitempty"`
	RevokedBy    *string    `db:"revoked_by"    json:"revoked_by,omitempty"`

	Permission Permission `db:"permission" json:"permission"`
}

func (rp *RolePermission) IsActive() bool {
	return rp.RevokedAt == nil
}

type OverrideEffect string

const (
	EffectAllow OverrideEffect = "ALLOW"
	EffectDeny  OverrideEffect = "DENY"
)

func (e OverrideEffect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// PermissionOverride grants or denies a single permission code for one
// user, independent of role membership. At most one override may be active
// per (user, permission) pair.
type PermissionOverride struct {
	ID           string         `db:"id"            json:"id"`
	UserID       string         `db:"user_id"       json:"user_id"`
	PermissionID string         `db:"permission_id" json:"permission_id"`
	Effect       OverrideEffect `db:"effect"        json:"effect"`
	ExpiresAt    *time.Time     `db:"expires_at"    json:"expires_at,omitempty"`
	AssignedAt   time.Time      `db:"assigned_at"   json:"assigned_at"`
	AssignedBy   string         `db:"assigned_by"   json:"assigned_by"`
	RevokedAt    *time.Time     `db:"revoked_at"    json:"revoked_at,omitempty"`
	RevokedBy    *string        `db:"revoked_by"    json:"revoked_by,omitempty"`

	Permission Permission `db:"permission" json:"permission"`
}

// ActiveAt reports whether the override is in effect at the given instant:
// not revoked and not past its optional expiry. A nil ExpiresAt never
// expires; ExpiresAt <= now is ignored.
func (o *PermissionOverride) ActiveAt(now time.Time) bool {
	if o.RevokedAt != nil {
		return false
	}
	if o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
		return false
	}
	return true
}
