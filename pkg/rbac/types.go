package rbac

import (
	"fmt"
	"strings"
	"time"

	"github.com/meridianerp/meridian/pkg/permcache"
)

// Role is a named, reusable permission bundle. Roles are global
// definitions; they grant nothing on their own and take effect only when
// assigned to a user within an organization through a membership.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a model-level grant identified by codename, for example
// "products.view_product". Permissions attach to roles many-to-many.
type Permission struct {
	ID          int64  `json:"id"`
	Codename    string `json:"codename"`
	Description string `json:"description,omitempty"`
}

// FieldFlags aliases the cache's grant flags so the store, authorizer, and
// cache share one representation.
type FieldFlags = permcache.FieldFlags

// FieldPermission grants a role fine-grained rights over one named field
// of one resource type. At most one row exists per (role, resource type,
// field name) triple; a user holding several applicable roles gets the
// union of their flags.
type FieldPermission struct {
	ID           int64     `json:"id"`
	RoleID       int64     `json:"role_id"`
	ResourceType string    `json:"resource_type"`
	FieldName    string    `json:"field_name"`
	CanCreate    bool      `json:"can_create"`
	CanRead      bool      `json:"can_read"`
	CanUpdate    bool      `json:"can_update"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FieldAction is one of the three field-level verbs.
type FieldAction string

const (
	FieldCreate FieldAction = "create"
	FieldRead   FieldAction = "read"
	FieldUpdate FieldAction = "update"
)

// Context is the result of resolving a user's organization access.
type Context struct {
	ActiveOrgIDs []int64
	IsSingleOrg  bool
}

// Contains reports whether the organization is in the resolved set.
func (c *Context) Contains(orgID int64) bool {
	for _, id := range c.ActiveOrgIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// OrgScoped is implemented by every tenant-owned resource. The owning
// organization is fixed at creation and immutable thereafter.
type OrgScoped interface {
	OrgID() int64
}

// Resource types are named "app.model", e.g. "products.product"; the
// derived permission codenames follow "app.verb_model".

func splitResourceType(resourceType string) (app, model string) {
	if i := strings.Index(resourceType, "."); i >= 0 {
		return resourceType[:i], resourceType[i+1:]
	}
	return "", resourceType
}

func permCode(verb, resourceType string) string {
	app, model := splitResourceType(resourceType)
	if app == "" {
		return fmt.Sprintf("%s_%s", verb, model)
	}
	return fmt.Sprintf("%s.%s_%s", app, verb, model)
}

// ViewCode returns the view permission codename for a resource type.
func ViewCode(resourceType string) string { return permCode("view", resourceType) }

// AddCode returns the add permission codename for a resource type.
func AddCode(resourceType string) string { return permCode("add", resourceType) }

// ChangeCode returns the change permission codename for a resource type.
func ChangeCode(resourceType string) string { return permCode("change", resourceType) }

// DeleteCode returns the delete permission codename for a resource type.
func DeleteCode(resourceType string) string { return permCode("delete", resourceType) }

// PrerequisiteCode maps a field-level action to the model-level permission
// that must hold before field grants are even consulted.
func PrerequisiteCode(action FieldAction, resourceType string) string {
	switch action {
	case FieldCreate:
		return AddCode(resourceType)
	case FieldUpdate:
		return ChangeCode(resourceType)
	default:
		return ViewCode(resourceType)
	}
}

// CreateRoleRequest represents a request to create a role
type CreateRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SetRolePermissionsRequest replaces a role's permission set
type SetRolePermissionsRequest struct {
	Codenames []string `json:"codenames"`
}

// UpsertFieldPermissionRequest creates or updates one field grant
type UpsertFieldPermissionRequest struct {
	ResourceType string `json:"resource_type"`
	FieldName    string `json:"field_name"`
	CanCreate    bool   `json:"can_create"`
	CanRead      bool   `json:"can_read"`
	CanUpdate    bool   `json:"can_update"`
}
