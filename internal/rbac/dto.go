// AngelaMos | 2026
// dto.go

package rbac

import (
	"time"
)

type CreateRoleRequest struct {
	Name         string `json:"name"          validate:"required,min=2,max=64"`
	Description  string `json:"description"   validate:"max=255"`
	LandingRoute string `json:"landing_route" validate:"max=255"`
	IsAdmin      bool   `json:"is_admin"`
}

type UpdateRoleRequest struct {
	Name         *string `json:"name,omitempty"          validate:"omitempty,min=2,max=64"`
	Description  *string `json:"description,omitempty"   validate:"omitempty,max=255"`
	LandingRoute *string `json:"landing_route,omitempty" validate:"omitempty,max=255"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

type CreatePermissionRequest struct {
	Code        string `json:"code"        validate:"required,min=3,max=128"`
	Description string `json:"description" validate:"max=255"`
}

type UpdatePermissionRequest struct {
	Description *string `json:"description,omitempty" validate:"omitempty,max=255"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type AssignRoleRequest struct {
	RoleID    string `json:"role_id"    validate:"required,uuid"`
	IsPrimary bool   `json:"is_primary"`
}

type AddOverrideRequest struct {
	PermissionCode string     `json:"permission_code" validate:"required,min=3,max=128"`
	Effect         string     `json:"effect"          validate:"required,oneof=ALLOW DENY"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type RoleListResponse struct {
	Roles []Role `json:"roles"`
	Total int    `json:"total"`
}

type PermissionListResponse struct {
	Permissions []Permission `json:"permissions"`
	Total       int          `json:"total"`
}

type AssignmentListResponse struct {
	Assignments []RoleAssignment `json:"assignments"`
	Total       int              `json:"total"`
}

type OverrideListResponse struct {
	Overrides []PermissionOverride `json:"overrides"`
	Total     int                  `json:"total"`
}
