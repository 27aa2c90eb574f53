package model

import "time"

const (
	RoleAdmin       = "admin"
	RoleBranchAdmin = "branch_admin"
	RoleMember      = "member"
)

// User is a login credential scoped to one church. The password hash and
// reset fields never leave the server.
type User struct {
	ID                   int64      `json:"id"`
	ChurchID             int64      `json:"church_id"`
	BranchID             *int64     `json:"branch_id"`
	Email                string     `json:"email"`
	Name                 string     `json:"name"`
	Role                 string     `json:"role"`
	PasswordHash         string     `json:"-"`
	ResetPasswordToken   *string    `json:"-"`
	ResetPasswordExpires *time.Time `json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// HasPendingReset reports whether a reset token is stored and still valid at now.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetPasswordToken != nil && u.ResetPasswordExpires != nil && now.Before(*u.ResetPasswordExpires)
}

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleBranchAdmin, RoleMember:
		return true
	}
	return false
}
