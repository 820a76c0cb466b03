package orgs

import "time"

// OrgKind classifies an organization; purely informational for the
// access-control core.
type OrgKind string

const (
	KindCompany   OrgKind = "company"
	KindBranch    OrgKind = "branch"
	KindWarehouse OrgKind = "warehouse"
)

// Organization represents a tenant boundary. Every scoped resource
// references exactly one organization; the organization owns nothing
// structurally but is referenced by everything.
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      OrgKind   `json:"kind"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateOrgRequest represents a request to create an organization
type CreateOrgRequest struct {
	Name string  `json:"name"`
	Kind OrgKind `json:"kind,omitempty"`
}

// UpdateOrgRequest represents a request to update an organization
type UpdateOrgRequest struct {
	Name     *string  `json:"name,omitempty"`
	Kind     *OrgKind `json:"kind,omitempty"`
	IsActive *bool    `json:"is_active,omitempty"`
}
