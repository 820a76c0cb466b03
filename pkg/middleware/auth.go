package middleware

import (
	"net/http"
	"strings"

	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/contextkeys"
	"github.com/meridianerp/meridian/pkg/httputil"
)

// AuthMiddleware authenticates requests with bearer API tokens and places
// the principal on the request context.
type AuthMiddleware struct {
	store *auth.Store
}

// NewAuthMiddleware creates authentication middleware
func NewAuthMiddleware(store *auth.Store) *AuthMiddleware {
	return &AuthMiddleware{store: store}
}

// Authenticate requires a valid bearer token
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		principal, err := m.store.Authenticate(r.Context(), token)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
