// AngelaMos | 2026
// dto.go

package user

import (
	"time"
)

type CreateUserRequest struct {
	Username         string     `json:"username"  validate:"required,min=3,max=64,alphanum"`
	Email            string     `json:"email"     validate:"required,email,max=255"`
	FullName         string     `json:"full_name" validate:"required,min=1,max=255"`
	Password         string     `json:"password"  validate:"required,min=8,max=128"`
	RoleID           string     `json:"role_id"   validate:"required,uuid"`
	AccountExpiresAt *time.Time `json:"account_expires_at,omitempty"`
}

type UpdateUserRequest struct {
	Email            *string    `json:"email,omitempty"     validate:"omitempty,email,max=255"`
	FullName         *string    `json:"full_name,omitempty" validate:"omitempty,min=1,max=255"`
	AccountExpiresAt *time.Time `json:"account_expires_at,omitempty"`
}

type CompleteOnboardingRequest struct {
	Token       string `json:"token"        validate:"required"`
	NewPassword string `json:"new_password" validate:"omitempty,min=8,max=128"`
	AcceptTerms bool   `json:"accept_terms"`
}

type ListUsersParams struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Search   string `json:"search"`
	IsActive *bool  `json:"is_active,omitempty"`
	IsLocked *bool  `json:"is_locked,omitempty"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (p *ListUsersParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
}

func (p *ListUsersParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

type UserListResponse struct {
	Users    []User `json:"users"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}
