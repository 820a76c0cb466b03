package audit

import "time"

// Actions recorded by the membership and rbac stores. Every mutation that
// triggers cache invalidation also leaves an audit entry.
const (
	ActionMemberAdded       = "membership.added"
	ActionMemberRoleChanged = "membership.role_changed"
	ActionMemberRemoved     = "membership.removed"
	ActionInviteSent        = "invitation.sent"
	ActionInviteAccepted    = "invitation.accepted"
	ActionInviteRevoked     = "invitation.revoked"
	ActionRoleCreated       = "role.created"
	ActionRoleDeleted       = "role.deleted"
	ActionRolePermsSet      = "role.permissions_set"
	ActionFieldPermSet      = "field_permission.set"
	ActionFieldPermDeleted  = "field_permission.deleted"
)

// Entry is a single audit log record
type Entry struct {
	ID             int64     `json:"id"`
	Action         string    `json:"action"`
	UserID         *int64    `json:"user_id,omitempty"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	RoleID         *int64    `json:"role_id,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Filter narrows a List query; zero values match everything.
type Filter struct {
	Action         string
	UserID         *int64
	OrganizationID *int64
	Limit          int
}
