package rbac

import (
	"context"
	"fmt"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/membership"
	"github.com/meridianerp/meridian/pkg/orgs"
	"github.com/meridianerp/meridian/pkg/permcache"
)

// ContextResolver determines which organizations a user may act within,
// and pins writes to a single target organization. It is read-heavy and
// cache-backed; a cache outage falls back to the membership store.
type ContextResolver struct {
	members *membership.Store
	orgs    *orgs.Store
	cache   *permcache.Cache
}

// NewContextResolver creates a context resolver
func NewContextResolver(members *membership.Store, orgStore *orgs.Store, cache *permcache.Cache) *ContextResolver {
	return &ContextResolver{members: members, orgs: orgStore, cache: cache}
}

// ResolveContext computes the set of organizations the user holds an
// active membership in. Superusers get their actual membership set like
// everyone else; the superuser bypass is applied by callers, not here.
func (r *ContextResolver) ResolveContext(ctx context.Context, user *auth.User) (*Context, error) {
	if user == nil {
		return &Context{}, nil
	}

	if r.cache != nil {
		if orgIDs, ok := r.cache.GetActiveOrgs(ctx, user.ID); ok {
			return &Context{ActiveOrgIDs: orgIDs, IsSingleOrg: len(orgIDs) == 1}, nil
		}
	}

	orgIDs, err := r.members.ActiveOrgIDs(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve organization context: %w", err)
	}
	if r.cache != nil {
		r.cache.SetActiveOrgs(ctx, user.ID, orgIDs)
	}

	return &Context{ActiveOrgIDs: orgIDs, IsSingleOrg: len(orgIDs) == 1}, nil
}

// ValidateTargetOrg pins an operation to one organization:
//
//   - a single-org user needs no hint; a hint naming a different
//     organization is a validation error
//   - a multi-org user must hint on writes; a hint outside their
//     membership set is a permission denial
//   - a superuser may hint any existing organization; a nonexistent one is
//     a validation error, and without a hint their own memberships apply
func (r *ContextResolver) ValidateTargetOrg(ctx context.Context, user *auth.User, hint *int64, requiredForWrite bool) (int64, error) {
	if user == nil {
		return 0, apperrors.NewPermissionDenied("authentication required")
	}

	if user.IsSuperuser && hint != nil {
		exists, err := r.orgs.Exists(ctx, *hint)
		if err != nil {
			return 0, fmt.Errorf("failed to check organization: %w", err)
		}
		if !exists {
			return 0, apperrors.NewValidation("organization", "organization %d does not exist", *hint)
		}
		return *hint, nil
	}

	rc, err := r.ResolveContext(ctx, user)
	if err != nil {
		return 0, err
	}

	switch len(rc.ActiveOrgIDs) {
	case 0:
		if user.IsSuperuser {
			return 0, apperrors.NewValidation("organization", "organization is required")
		}
		return 0, apperrors.NewPermissionDenied("user belongs to no organization")
	case 1:
		only := rc.ActiveOrgIDs[0]
		if hint != nil && *hint != only {
			return 0, apperrors.NewValidation("organization", "organization %d does not match your organization", *hint)
		}
		return only, nil
	default:
		if hint == nil {
			if requiredForWrite {
				return 0, apperrors.NewValidation("organization", "organization is required for users in multiple organizations")
			}
			return 0, apperrors.NewValidation("organization", "organization must be specified")
		}
		if !rc.Contains(*hint) {
			return 0, apperrors.NewPermissionDenied("not a member of organization %d", *hint)
		}
		return *hint, nil
	}
}
