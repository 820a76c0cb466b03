package membership

import "time"

// Membership grants a user a role within one organization. At most one
// active membership exists per (user, organization) pair; removal
// deactivates the row rather than deleting it so history survives.
type Membership struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	OrganizationID int64     `json:"organization_id"`
	RoleID         *int64    `json:"role_id,omitempty"` // nil grants nothing
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Member is a membership row joined with user identity for listings.
type Member struct {
	Membership
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// UserOrg identifies one (user, organization) pair; used by invalidation
// fan-out when a role's grants change.
type UserOrg struct {
	UserID         int64
	OrganizationID int64
}

// Invitation invites an email address into an organization with a role.
type Invitation struct {
	ID             int64      `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	Email          string     `json:"email"`
	RoleID         *int64     `json:"role_id,omitempty"`
	Token          string     `json:"token,omitempty"`
	InvitedBy      int64      `json:"invited_by"`
	InvitedAt      time.Time  `json:"invited_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy     *int64     `json:"accepted_by,omitempty"`
}

// AddMemberRequest represents a request to add a member
type AddMemberRequest struct {
	UserID int64  `json:"user_id"`
	RoleID *int64 `json:"role_id,omitempty"`
}

// UpdateMemberRequest represents a request to change a member's role
type UpdateMemberRequest struct {
	RoleID *int64 `json:"role_id"`
}

// InviteRequest represents a request to invite a member by email
type InviteRequest struct {
	Email  string `json:"email"`
	RoleID *int64 `json:"role_id,omitempty"`
}
