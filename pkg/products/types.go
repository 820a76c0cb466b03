package products

import "time"

// ResourceType is the products resource identifier used for permission
// codenames and field grants.
const ResourceType = "products.product"

// Product is an organization-scoped resource. The owning organization is
// set at creation and never changes; update payloads naming it are
// rejected before they reach the store.
type Product struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	Description    string    `json:"description,omitempty"`
	CostPrice      float64   `json:"cost_price"`
	SalePrice      float64   `json:"sale_price"`
	Quantity       int64     `json:"quantity"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OrgID returns the owning organization.
func (p *Product) OrgID() int64 { return p.OrganizationID }

// AlwaysVisibleFields bypass field grants: identifiers and timestamps
// carry no business-sensitive data and are needed by every client.
var AlwaysVisibleFields = []string{"id", "organization_id", "created_at", "updated_at"}

// Serialize renders the product as a field map for grant filtering.
func (p *Product) Serialize() map[string]interface{} {
	return map[string]interface{}{
		"id":              p.ID,
		"organization_id": p.OrganizationID,
		"name":            p.Name,
		"sku":             p.SKU,
		"description":     p.Description,
		"cost_price":      p.CostPrice,
		"sale_price":      p.SalePrice,
		"quantity":        p.Quantity,
		"created_at":      p.CreatedAt,
		"updated_at":      p.UpdatedAt,
	}
}
