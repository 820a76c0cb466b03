package rbac

import (
	"context"

	"github.com/meridianerp/meridian/pkg/membership"
	"github.com/meridianerp/meridian/pkg/observability"
	"github.com/meridianerp/meridian/pkg/permcache"
)

// Invalidator evicts cached permission state when the underlying grants
// change. It implements membership.Hooks and is called by the RBAC store
// after role and field-grant mutations; eviction runs in the same request
// lifecycle as the write. Eviction failures are logged, never returned:
// the cache entry still dies with its TTL, and a failed DEL must not roll
// back a committed grant change.
type Invalidator struct {
	cache   *permcache.Cache
	members *membership.Store
	logger  *observability.Logger
}

// NewInvalidator creates a cache invalidator
func NewInvalidator(cache *permcache.Cache, members *membership.Store, logger *observability.Logger) *Invalidator {
	return &Invalidator{cache: cache, members: members, logger: logger}
}

// MembershipChanged evicts everything derived from one (user, org)
// membership: the user's active organization set, the pair's permission
// set, and the user's field grant generation (the role behind the grants
// may have changed).
func (inv *Invalidator) MembershipChanged(ctx context.Context, userID, orgID int64) {
	if err := inv.cache.InvalidateActiveOrgs(ctx, userID); err != nil {
		inv.logger.WithError(err).WithField("user_id", userID).Error("Failed to invalidate active organizations")
	}
	if err := inv.cache.InvalidatePermSet(ctx, userID, orgID); err != nil {
		inv.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id": userID, "organization_id": orgID,
		}).Error("Failed to invalidate permission set")
	}
	if err := inv.cache.BumpFieldVersion(ctx, userID); err != nil {
		inv.logger.WithError(err).WithField("user_id", userID).Error("Failed to bump field grant version")
	}
}

// RolePermissionsChanged evicts the permission set of every (user, org)
// pair whose active membership carries the role.
func (inv *Invalidator) RolePermissionsChanged(ctx context.Context, roleID int64) {
	holders, err := inv.holders(ctx, roleID)
	if err != nil {
		inv.logger.WithError(err).WithField("role_id", roleID).Error("Failed to enumerate role holders for invalidation")
		return
	}
	for _, h := range holders {
		if err := inv.cache.InvalidatePermSet(ctx, h.UserID, h.OrganizationID); err != nil {
			inv.logger.WithError(err).WithFields(map[string]interface{}{
				"user_id": h.UserID, "organization_id": h.OrganizationID,
			}).Error("Failed to invalidate permission set")
		}
	}
}

// FieldPermissionsChanged bumps the field grant generation of every user
// holding the role. One INCR per user covers all resource types.
func (inv *Invalidator) FieldPermissionsChanged(ctx context.Context, roleID int64) {
	holders, err := inv.holders(ctx, roleID)
	if err != nil {
		inv.logger.WithError(err).WithField("role_id", roleID).Error("Failed to enumerate role holders for invalidation")
		return
	}
	seen := make(map[int64]struct{}, len(holders))
	for _, h := range holders {
		if _, done := seen[h.UserID]; done {
			continue
		}
		seen[h.UserID] = struct{}{}
		if err := inv.cache.BumpFieldVersion(ctx, h.UserID); err != nil {
			inv.logger.WithError(err).WithField("user_id", h.UserID).Error("Failed to bump field grant version")
		}
	}
}

func (inv *Invalidator) holders(ctx context.Context, roleID int64) ([]membership.UserOrg, error) {
	return inv.members.HoldersOfRole(ctx, roleID)
}

// invalidateHolders evicts both permission sets and field grant
// generations for a precomputed holder set; used when the holders must be
// captured before the triggering row disappears (role deletion).
func (inv *Invalidator) invalidateHolders(ctx context.Context, holders []membership.UserOrg) {
	seen := make(map[int64]struct{}, len(holders))
	for _, h := range holders {
		if err := inv.cache.InvalidatePermSet(ctx, h.UserID, h.OrganizationID); err != nil {
			inv.logger.WithError(err).WithFields(map[string]interface{}{
				"user_id": h.UserID, "organization_id": h.OrganizationID,
			}).Error("Failed to invalidate permission set")
		}
		if _, done := seen[h.UserID]; done {
			continue
		}
		seen[h.UserID] = struct{}{}
		if err := inv.cache.BumpFieldVersion(ctx, h.UserID); err != nil {
			inv.logger.WithError(err).WithField("user_id", h.UserID).Error("Failed to bump field grant version")
		}
	}
}
