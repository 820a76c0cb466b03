package rbac

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/httputil"
)

// PermissionMiddleware gates org-scoped routes on model-level permissions
type PermissionMiddleware struct {
	authorizer *Authorizer
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(authorizer *Authorizer) *PermissionMiddleware {
	return &PermissionMiddleware{authorizer: authorizer}
}

// RequirePermission requires the permission code within the organization
// named by the route's {orgID} variable. Routes without an organization in
// the path use the scoping enforcement layer instead.
func (pm *PermissionMiddleware) RequirePermission(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.FromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			orgID, err := strconv.ParseInt(mux.Vars(r)["orgID"], 10, 64)
			if err != nil {
				httputil.WriteBadRequest(w, "invalid organization ID")
				return
			}

			if !pm.authorizer.HasPermInOrg(r.Context(), principal.User, code, orgID) {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperuser restricts a route to superusers; used for the global
// role and permission administration surface.
func (pm *PermissionMiddleware) RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.FromContext(r.Context())
		if !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !principal.User.IsSuperuser {
			httputil.WriteForbidden(w, "superuser required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
