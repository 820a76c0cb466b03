package audit

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/meridianerp/meridian/pkg/httputil"
	"github.com/meridianerp/meridian/pkg/observability"
)

// Handlers provides the audit log query endpoint
type Handlers struct {
	store  *Store
	logger *observability.Logger
}

// NewHandlers creates audit handlers
func NewHandlers(store *Store, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

// RegisterRoutes registers the audit log route; the caller gates it
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/audit", h.List).Methods(http.MethodGet)
}

// List handles GET /audit with optional action, user_id, organization_id
// and limit query parameters.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	filter := Filter{Action: r.URL.Query().Get("action")}

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "user_id must be an integer")
			return
		}
		filter.UserID = &id
	}
	if raw := r.URL.Query().Get("organization_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "organization_id must be an integer")
			return
		}
		filter.OrganizationID = &id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list audit entries")
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"entries": entries, "count": len(entries)})
}
