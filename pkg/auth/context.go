package auth

import (
	"context"

	"github.com/meridianerp/meridian/pkg/contextkeys"
)

// FromContext retrieves the authenticated principal placed on the context
// by the authentication middleware.
func FromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(contextkeys.AuthKey).(*Principal)
	if !ok || principal == nil || principal.User == nil {
		return nil, false
	}
	return principal, true
}
