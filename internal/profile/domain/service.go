package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type SignUpRequest struct {
	Name       string
	Email      string
	InviteCode string
}

type UpdateProfileRequest struct {
	Name  string
	Phone string
}

type UpdateRoleRequest struct {
	ProfileID string
	Role      Role
}

// AdminContact is what members see when they need to reach an admin for a
// leave code.
type AdminContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Service interface {
	// SignUp creates the caller's profile, consuming a sign-up invite code in
	// the same transaction. A caller that already has a profile gets it back
	// unchanged, code untouched.
	SignUp(ctx context.Context, req SignUpRequest) (*Profile, error)
	Me(ctx context.Context) (*Profile, error)
	UpdateMe(ctx context.Context, req UpdateProfileRequest) (*Profile, error)
	AdminContacts(ctx context.Context) ([]AdminContact, error)

	List(ctx context.Context) ([]Profile, error)
	UpdateRole(ctx context.Context, req UpdateRoleRequest) (*Profile, error)
	// Delete removes a profile and every record that references it. The
	// caller cannot delete itself.
	Delete(ctx context.Context, profileID string) error
}

var (
	ErrNotFound       = errors.New("profile_not_found")
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidEmail   = errors.New("invalid_email")
	ErrInvalidRole    = errors.New("invalid_role")
	ErrInvalidID      = errors.New("invalid_id")
	ErrSelfDeletion   = errors.New("self_deletion")
	ErrInviteRequired = errors.New("invite_code_required")
)

// ParseID parses a snowflake profile ID from its string form.
func ParseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(value)
	if err != nil || id == 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
