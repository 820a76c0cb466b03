package orgs

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meridianerp/meridian/pkg/httputil"
	"github.com/meridianerp/meridian/pkg/observability"
)

// Handlers provides organization administration; gated behind the
// superuser middleware since organizations are the tenant boundary itself.
type Handlers struct {
	store  *Store
	logger *observability.Logger
}

// NewHandlers creates organization handlers
func NewHandlers(store *Store, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

// RegisterRoutes registers organization routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/organizations", h.List).Methods(http.MethodGet)
	r.HandleFunc("/organizations", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/organizations/{orgID}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/organizations/{orgID}", h.Update).Methods(http.MethodPatch)
	r.HandleFunc("/organizations/{orgID}", h.Delete).Methods(http.MethodDelete)
}

// List handles GET /organizations
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	organizations, err := h.store.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list organizations")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"organizations": organizations, "count": len(organizations)})
}

// Create handles POST /organizations
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org := &Organization{Name: req.Name, Kind: req.Kind}
	if err := h.store.Create(r.Context(), org); err != nil {
		h.logger.WithError(err).Error("Failed to create organization")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteCreated(w, org)
}

// Get handles GET /organizations/{orgID}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}

	org, err := h.store.Get(r.Context(), orgID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// Update handles PATCH /organizations/{orgID}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}

	var req UpdateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.store.Update(r.Context(), orgID, &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to update organization")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// Delete handles DELETE /organizations/{orgID}. Deletion is blocked while
// scoped resources reference the organization.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), orgID); err != nil {
		h.logger.WithError(err).Error("Failed to delete organization")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
