package rbac

import (
	"context"

	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/membership"
	"github.com/meridianerp/meridian/pkg/observability"
	"github.com/meridianerp/meridian/pkg/orgs"
	"github.com/meridianerp/meridian/pkg/permcache"
)

// Authorizer answers model-level and field-level permission questions.
// Both checks are predicates: they return false for every failure mode,
// including backend errors, and never substitute a default allow.
type Authorizer struct {
	members *membership.Store
	store   *Store
	cache   *permcache.Cache
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAuthorizer creates an authorizer
func NewAuthorizer(members *membership.Store, store *Store, cache *permcache.Cache, logger *observability.Logger, metrics *observability.Metrics) *Authorizer {
	return &Authorizer{members: members, store: store, cache: cache, logger: logger, metrics: metrics}
}

// HasPermInOrg reports whether the user may exercise the permission code
// within an organization. The org argument accepts an organization ID, an
// organization, or any scoped resource exposing its owner; anything else
// is denied.
func (a *Authorizer) HasPermInOrg(ctx context.Context, user *auth.User, code string, org interface{}) bool {
	allowed := a.hasPermInOrg(ctx, user, code, org)
	if a.metrics != nil {
		a.metrics.ObservePermissionCheck(allowed)
	}
	return allowed
}

func (a *Authorizer) hasPermInOrg(ctx context.Context, user *auth.User, code string, org interface{}) bool {
	if user == nil || !user.IsActive {
		return false
	}
	if user.IsSuperuser {
		return true
	}

	orgID, ok := extractOrgID(org)
	if !ok {
		return false
	}

	set, err := a.permSet(ctx, user.ID, orgID)
	if err != nil {
		a.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id": user.ID, "organization_id": orgID,
		}).Error("Permission lookup failed, denying")
		return false
	}

	_, granted := set[code]
	return granted
}

// permSet loads the user's permission codes for one organization,
// cache-first with database fallback.
func (a *Authorizer) permSet(ctx context.Context, userID, orgID int64) (map[string]struct{}, error) {
	if a.cache != nil {
		if set, ok := a.cache.GetPermSet(ctx, userID, orgID); ok {
			return set, nil
		}
	}

	codes, err := a.members.PermissionCodes(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.SetPermSet(ctx, userID, orgID, codes)
	}

	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set, nil
}

// FieldGrants batch-resolves the full field grant map for a user and
// resource type. Callers resolve once per request and consult the map per
// field instead of issuing one lookup per field.
func (a *Authorizer) FieldGrants(ctx context.Context, user *auth.User, resourceType string) (map[string]FieldFlags, error) {
	if user == nil {
		return map[string]FieldFlags{}, nil
	}

	if a.cache != nil {
		if grants, ok := a.cache.GetFieldGrants(ctx, user.ID, resourceType); ok {
			return grants, nil
		}
	}

	roleIDs, err := a.members.ActiveRoleIDs(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	grants, err := a.store.FieldGrantsForRoles(ctx, roleIDs, resourceType)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.SetFieldGrants(ctx, user.ID, resourceType, grants)
	}

	return grants, nil
}

// HasFieldPermission reports whether the user may perform the field-level
// action on one named field. The matching model-level permission is a
// prerequisite, checked against the organization; field grants never
// substitute for a missing model-level grant.
func (a *Authorizer) HasFieldPermission(ctx context.Context, user *auth.User, action FieldAction, resourceType string, org interface{}, fieldName string) bool {
	allowed := a.hasFieldPermission(ctx, user, action, resourceType, org, fieldName)
	if a.metrics != nil {
		a.metrics.ObserveFieldCheck(allowed)
	}
	return allowed
}

func (a *Authorizer) hasFieldPermission(ctx context.Context, user *auth.User, action FieldAction, resourceType string, org interface{}, fieldName string) bool {
	if user == nil || !user.IsActive {
		return false
	}
	if user.IsSuperuser {
		return true
	}

	if !a.hasPermInOrg(ctx, user, PrerequisiteCode(action, resourceType), org) {
		return false
	}

	grants, err := a.FieldGrants(ctx, user, resourceType)
	if err != nil {
		a.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id": user.ID, "resource_type": resourceType,
		}).Error("Field grant lookup failed, denying")
		return false
	}

	flags, ok := grants[fieldName]
	if !ok {
		return false
	}
	switch action {
	case FieldCreate:
		return flags.CanCreate
	case FieldUpdate:
		return flags.CanUpdate
	default:
		return flags.CanRead
	}
}

// extractOrgID pulls an organization ID out of the accepted argument
// shapes. Unknown shapes deny rather than panic.
func extractOrgID(org interface{}) (int64, bool) {
	switch v := org.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case *orgs.Organization:
		if v == nil {
			return 0, false
		}
		return v.ID, true
	case orgs.Organization:
		return v.ID, true
	case OrgScoped:
		return v.OrgID(), true
	default:
		return 0, false
	}
}
