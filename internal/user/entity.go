// AngelaMos | 2026
// entity.go

package user

import (
	"time"
)

type User struct {
	ID                 string     `db:"id"                   json:"id"`
	Username           string     `db:"username"             json:"username"`
	Email              string     `db:"email"                json:"email"`
	PasswordHash       string     `db:"password_hash"        json:"-"`
	FullName           string     `db:"full_name"            json:"full_name"`
	IsActive           bool       `db:"is_active"            json:"is_active"`
	IsLocked           bool       `db:"is_locked"            json:"is_locked"`
	MustChangePassword bool       `db:"must_change_password" json:"must_change_password"`
	TermsAccepted      bool       `db:"terms_accepted"       json:"terms_accepted"`
	AccountExpiresAt   *time.Time `db:"account_expires_at"   json:"account_expires_at,omitempty"`
	LastLoginAt        *time.Time `db:"last_login_at"        json:"last_login_at,omitempty"`
	LastLoginIP        *string    `db:"last_login_ip"        json:"-"`
	TokenVersion       int        `db:"token_version"        json:"-"`
	CreatedAt          time.Time  `db:"created_at"           json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"           json:"updated_at"`
	DeletedAt          *time.Time `db:"deleted_at"           json:"-"`
}

func (u *User) IsExpired() bool {
	return u.AccountExpiresAt != nil && time.Now().After(*u.AccountExpiresAt)
}
