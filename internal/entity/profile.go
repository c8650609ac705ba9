package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Role is the enum-like role label stored on a profile.
type Role string

const (
	RoleClient Role = "client"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// ParseRole maps free text onto a known role; unknown values are reported as false.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleClient, RoleDriver, RoleAdmin:
		return Role(s), true
	default:
		return "", false
	}
}

// Profile is a user identity, used as requester and as driver.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	ID        string    `bun:"id,pk" json:"id"`
	FullName  string    `bun:"full_name" json:"full_name"`
	Phone     string    `bun:"phone" json:"phone"`
	Email     string    `bun:"email" json:"email"`
	Role      Role      `bun:"role,notnull" json:"role"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// DisplayName prefers the full name, then the email, then the id.
func (p *Profile) DisplayName() string {
	switch {
	case p == nil:
		return ""
	case p.FullName != "":
		return p.FullName
	case p.Email != "":
		return p.Email
	default:
		return p.ID
	}
}

// Account holds sign-in credentials. Its id is shared with the profile.
type Account struct {
	bun.BaseModel `bun:"table:auth_users,alias:au"`

	ID           string    `bun:"id,pk" json:"id"`
	Email        string    `bun:"email,notnull,unique" json:"email"`
	PasswordHash string    `bun:"password_hash,notnull" json:"-"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}
