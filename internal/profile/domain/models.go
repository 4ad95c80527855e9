package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Role is the closed set of membership roles. Every authorization site
// switches exhaustively over it; unknown strings from storage never grant
// access.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleModerator, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanManageBatches reports whether the role may create and delete batches.
func (r Role) CanManageBatches() bool {
	switch r {
	case RoleAdmin, RoleModerator:
		return true
	case RoleMember:
		return false
	default:
		return false
	}
}

// CanAdminister reports whether the role may run admin-only operations
// (close, reveal, role changes, code issuance, leave resolution).
func (r Role) CanAdminister() bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleModerator, RoleMember:
		return false
	default:
		return false
	}
}

// Profile is the account record for one participant. The authentication
// subject is owned by an external identity provider; only its opaque value is
// stored here.
type Profile struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	AuthUserID string       `gorm:"not null;uniqueIndex" json:"auth_user_id"`
	Name       string       `gorm:"not null" json:"name"`
	Email      string       `gorm:"not null" json:"email"`
	Phone      string       `json:"phone,omitempty"`
	Role       Role         `gorm:"not null;default:member" json:"role"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}
