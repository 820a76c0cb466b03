package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/httputil"
	"github.com/meridianerp/meridian/pkg/observability"
)

// Handlers provides the administration surface for roles, permission
// assignment, and field grants. This surface is the only way permission
// state changes.
type Handlers struct {
	store      *Store
	authorizer *Authorizer
	logger     *observability.Logger
}

// NewHandlers creates RBAC handlers
func NewHandlers(store *Store, authorizer *Authorizer, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, authorizer: authorizer, logger: logger}
}

// RegisterRoutes registers RBAC administration routes; the caller gates
// them behind the superuser middleware.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet)
	r.HandleFunc("/roles", h.CreateRole).Methods(http.MethodPost)
	r.HandleFunc("/roles/{roleID}", h.GetRole).Methods(http.MethodGet)
	r.HandleFunc("/roles/{roleID}", h.DeleteRole).Methods(http.MethodDelete)
	r.HandleFunc("/roles/{roleID}/permissions", h.GetRolePermissions).Methods(http.MethodGet)
	r.HandleFunc("/roles/{roleID}/permissions", h.SetRolePermissions).Methods(http.MethodPut)
	r.HandleFunc("/roles/{roleID}/field-permissions", h.ListFieldPermissions).Methods(http.MethodGet)
	r.HandleFunc("/roles/{roleID}/field-permissions", h.UpsertFieldPermission).Methods(http.MethodPost)
	r.HandleFunc("/roles/{roleID}/field-permissions/{fieldPermID}", h.DeleteFieldPermission).Methods(http.MethodDelete)
	r.HandleFunc("/permissions", h.ListPermissions).Methods(http.MethodGet)
}

// RegisterCheckRoute registers the self-service permission probe; any
// authenticated user may ask about their own permissions.
func (h *Handlers) RegisterCheckRoute(r *mux.Router) {
	r.HandleFunc("/permissions/check", h.CheckPermission).Methods(http.MethodPost)
}

// ListRoles handles GET /roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list roles")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles, "count": len(roles)})
}

// CreateRole handles POST /roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.store.CreateRole(r.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create role")
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, role)
}

// GetRole handles GET /roles/{roleID}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole handles DELETE /roles/{roleID}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	if err := h.store.DeleteRole(r.Context(), roleID); err != nil {
		h.logger.WithError(err).Error("Failed to delete role")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetRolePermissions handles GET /roles/{roleID}/permissions
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	if _, err := h.store.GetRole(r.Context(), roleID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	codes, err := h.store.RolePermissions(r.Context(), roleID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"role_id": roleID, "codenames": codes})
}

// SetRolePermissions handles PUT /roles/{roleID}/permissions
func (h *Handlers) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	var req SetRolePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.store.SetRolePermissions(r.Context(), roleID, req.Codenames); err != nil {
		h.logger.WithError(err).Error("Failed to set role permissions")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"role_id": roleID, "codenames": req.Codenames})
}

// ListFieldPermissions handles GET /roles/{roleID}/field-permissions
func (h *Handlers) ListFieldPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	if _, err := h.store.GetRole(r.Context(), roleID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	perms, err := h.store.ListFieldPermissions(r.Context(), roleID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"field_permissions": perms, "count": len(perms)})
}

// UpsertFieldPermission handles POST /roles/{roleID}/field-permissions
func (h *Handlers) UpsertFieldPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	var req UpsertFieldPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	fp, err := h.store.UpsertFieldPermission(r.Context(), roleID, &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upsert field permission")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, fp)
}

// DeleteFieldPermission handles DELETE /roles/{roleID}/field-permissions/{fieldPermID}
func (h *Handlers) DeleteFieldPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	fieldPermID, ok := httputil.ParsePathInt64OrError(w, r, "fieldPermID")
	if !ok {
		return
	}

	if err := h.store.DeleteFieldPermission(r.Context(), roleID, fieldPermID); err != nil {
		h.logger.WithError(err).Error("Failed to delete field permission")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListPermissions handles GET /permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"permissions": perms, "count": len(perms)})
}

// CheckPermissionRequest asks whether the caller holds a permission
type CheckPermissionRequest struct {
	Permission     string `json:"permission"`
	OrganizationID int64  `json:"organization_id"`
}

// CheckPermission handles POST /permissions/check
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req CheckPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	allowed := h.authorizer.HasPermInOrg(r.Context(), principal.User, req.Permission, req.OrganizationID)
	httputil.WriteSuccess(w, map[string]interface{}{
		"permission":      req.Permission,
		"organization_id": req.OrganizationID,
		"allowed":         allowed,
	})
}
