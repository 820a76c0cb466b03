package products

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/contextkeys"
	"github.com/meridianerp/meridian/pkg/httputil"
	"github.com/meridianerp/meridian/pkg/observability"
	"github.com/meridianerp/meridian/pkg/rbac"
	"github.com/meridianerp/meridian/pkg/scope"
)

// Handlers provides the product CRUD surface. Every operation routes
// through the scoping enforcer and the field filter; the handlers contain
// no permission logic of their own.
type Handlers struct {
	store    *Store
	enforcer *scope.Enforcer
	fields   *scope.FieldFilter
	logger   *observability.Logger
}

// NewHandlers creates product handlers
func NewHandlers(store *Store, enforcer *scope.Enforcer, fields *scope.FieldFilter, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, enforcer: enforcer, fields: fields, logger: logger}
}

// RegisterRoutes registers product routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/products", h.List).Methods(http.MethodGet)
	r.HandleFunc("/products", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/products/{productID}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/products/{productID}", h.Update).Methods(http.MethodPatch)
	r.HandleFunc("/products/{productID}", h.Delete).Methods(http.MethodDelete)
}

// List handles GET /products. The result is narrowed to organizations
// where the caller holds the view permission; a caller with none gets an
// empty list, not an error.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	filter, err := h.enforcer.ReadFilter(r.Context(), principal.User)
	if err != nil {
		h.logger.WithError(err).Error("Failed to resolve scope filter")
		httputil.WriteAppError(w, err)
		return
	}
	filter = h.enforcer.NarrowToPermitted(r.Context(), principal.User, rbac.ViewCode(ResourceType), filter)

	items, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list products")
		httputil.WriteAppError(w, err)
		return
	}

	serialized := make([]map[string]interface{}, 0, len(items))
	for _, p := range items {
		record, err := h.fields.FilterReadable(r.Context(), principal.User, ResourceType, p.Serialize(), AlwaysVisibleFields)
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		serialized = append(serialized, record)
	}

	httputil.WriteSuccess(w, map[string]interface{}{"products": serialized, "count": len(serialized)})
}

// Get handles GET /products/{productID}. A product in a foreign
// organization and a product that does not exist answer identically.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	productID, ok := httputil.ParsePathInt64OrError(w, r, "productID")
	if !ok {
		return
	}

	p, err := h.store.Get(r.Context(), productID)
	if err != nil {
		httputil.WriteScopedError(w, err)
		return
	}
	if err := h.enforcer.AuthorizeRead(r.Context(), principal.User, ResourceType, p); err != nil {
		httputil.WriteScopedError(w, err)
		return
	}

	record, err := h.fields.FilterReadable(r.Context(), principal.User, ResourceType, p.Serialize(), AlwaysVisibleFields)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, record)
}

// Create handles POST /products. The target organization comes from the
// payload or the X-Organization-ID header, validated by the resolver; it
// is never taken from the payload unchecked.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var payload map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}

	hint := contextkeys.OrgHint(r.Context())
	if raw, present := payload["organization_id"]; present {
		id, ok := asInt64(raw)
		if !ok {
			httputil.WriteAppError(w, apperrors.NewValidation("organization_id", "organization_id must be an integer"))
			return
		}
		hint = &id
		delete(payload, "organization_id")
	}

	orgID, err := h.enforcer.AuthorizeCreate(r.Context(), principal.User, ResourceType, hint)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.fields.CheckWritable(r.Context(), principal.User, rbac.FieldCreate, ResourceType, mapKeys(payload), nil); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	p := productFromPayload(payload)
	if err := h.store.Create(r.Context(), orgID, p); err != nil {
		h.logger.WithError(err).Error("Failed to create product")
		httputil.WriteAppError(w, err)
		return
	}

	record, err := h.fields.FilterReadable(r.Context(), principal.User, ResourceType, p.Serialize(), AlwaysVisibleFields)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteCreated(w, record)
}

// Update handles PATCH /products/{productID}. The stored organization is
// authoritative: a payload attempting to move the product between
// organizations is rejected outright.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	productID, ok := httputil.ParsePathInt64OrError(w, r, "productID")
	if !ok {
		return
	}

	p, err := h.store.Get(r.Context(), productID)
	if err != nil {
		httputil.WriteScopedError(w, err)
		return
	}
	if err := h.enforcer.AuthorizeUpdate(r.Context(), principal.User, ResourceType, p); err != nil {
		httputil.WriteScopedError(w, err)
		return
	}

	var payload map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if _, present := payload["organization_id"]; present {
		httputil.WriteAppError(w, apperrors.NewValidation("organization_id", "organization cannot be changed"))
		return
	}

	if err := h.fields.CheckWritable(r.Context(), principal.User, rbac.FieldUpdate, ResourceType, mapKeys(payload), nil); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	updated, err := h.store.Update(r.Context(), productID, payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to update product")
		httputil.WriteAppError(w, err)
		return
	}

	record, err := h.fields.FilterReadable(r.Context(), principal.User, ResourceType, updated.Serialize(), AlwaysVisibleFields)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, record)
}

// Delete handles DELETE /products/{productID}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	productID, ok := httputil.ParsePathInt64OrError(w, r, "productID")
	if !ok {
		return
	}

	p, err := h.store.Get(r.Context(), productID)
	if err != nil {
		httputil.WriteScopedError(w, err)
		return
	}
	if err := h.enforcer.AuthorizeDelete(r.Context(), principal.User, ResourceType, p); err != nil {
		httputil.WriteScopedError(w, err)
		return
	}

	if err := h.store.Delete(r.Context(), productID); err != nil {
		h.logger.WithError(err).Error("Failed to delete product")
		httputil.WriteScopedError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func productFromPayload(payload map[string]interface{}) *Product {
	p := &Product{}
	if v, ok := payload["name"].(string); ok {
		p.Name = v
	}
	if v, ok := payload["sku"].(string); ok {
		p.SKU = v
	}
	if v, ok := payload["description"].(string); ok {
		p.Description = v
	}
	if v, ok := payload["cost_price"].(float64); ok {
		p.CostPrice = v
	}
	if v, ok := payload["sale_price"].(float64); ok {
		p.SalePrice = v
	}
	if v, ok := asInt64(payload["quantity"]); ok {
		p.Quantity = v
	}
	return p
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func mapKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
