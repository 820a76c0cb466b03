// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.Principal
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: all protected endpoints, scoping enforcement
	AuthKey Key = "auth_principal"

	// OrgHintKey contains *int64, the organization hint supplied by the
	// client via the X-Organization-ID header.
	// Set by: middleware.OrgHintMiddleware (pkg/middleware/org.go)
	// Required by: write-path target organization validation
	OrgHintKey Key = "org_hint"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestMiddleware
	// Used by: logger, error responses
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestMiddleware
	// Used by: handlers that need structured logging with request context
	LoggerKey Key = "logger"
)

// WithAuth adds the authenticated principal to the context
func WithAuth(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, principal)
}

// WithOrgHint adds the client-supplied organization hint to the context
func WithOrgHint(ctx context.Context, orgID *int64) context.Context {
	return context.WithValue(ctx, OrgHintKey, orgID)
}

// OrgHint retrieves the organization hint from the context, nil if absent
func OrgHint(ctx context.Context) *int64 {
	if hint, ok := ctx.Value(OrgHintKey).(*int64); ok {
		return hint
	}
	return nil
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request ID from the context, empty if absent
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
