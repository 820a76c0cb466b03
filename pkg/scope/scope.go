package scope

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/rbac"
)

// Filter narrows read queries to the organizations the caller may see.
type Filter struct {
	// All disables narrowing entirely (superusers only).
	All bool
	// OrgIDs is the caller's active organization set. Empty means the
	// query matches nothing.
	OrgIDs []int64
}

// SQL renders the filter as a WHERE fragment for the given column. The
// placeholder numbering starts at startIdx; the returned args line up with
// the placeholders. An unrestricted filter renders as an empty fragment,
// an empty organization set renders as a contradiction so the query stays
// a single code path and returns no rows.
func (f *Filter) SQL(column string, startIdx int) (string, []interface{}) {
	if f.All {
		return "", nil
	}
	if len(f.OrgIDs) == 0 {
		return "1 = 0", nil
	}

	placeholders := make([]string, len(f.OrgIDs))
	args := make([]interface{}, len(f.OrgIDs))
	for i, id := range f.OrgIDs {
		placeholders[i] = fmt.Sprintf("$%d", startIdx+i)
		args[i] = id
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), args
}

// Contains reports whether the organization passes the filter.
func (f *Filter) Contains(orgID int64) bool {
	if f.All {
		return true
	}
	for _, id := range f.OrgIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// Enforcer applies organization scoping uniformly to every scoped
// resource: reads are narrowed to the caller's organizations, writes are
// pinned to a validated target organization and gated on the model-level
// permission. Every operation of every scoped resource goes through here.
type Enforcer struct {
	resolver   *rbac.ContextResolver
	authorizer *rbac.Authorizer
}

// NewEnforcer creates a scoping enforcer
func NewEnforcer(resolver *rbac.ContextResolver, authorizer *rbac.Authorizer) *Enforcer {
	return &Enforcer{resolver: resolver, authorizer: authorizer}
}

// ReadFilter computes the list-path filter for the caller. A user with
// zero active organizations gets an empty result set, never an error.
func (e *Enforcer) ReadFilter(ctx context.Context, user *auth.User) (*Filter, error) {
	if user == nil {
		return &Filter{}, nil
	}
	if user.IsSuperuser {
		return &Filter{All: true}, nil
	}

	rc, err := e.resolver.ResolveContext(ctx, user)
	if err != nil {
		return nil, err
	}
	return &Filter{OrgIDs: rc.ActiveOrgIDs}, nil
}

// NarrowToPermitted drops organizations where the user lacks the
// permission code from a read filter. List endpoints use this so a
// multi-org user only sees rows from organizations where their role
// actually grants the view permission.
func (e *Enforcer) NarrowToPermitted(ctx context.Context, user *auth.User, code string, filter *Filter) *Filter {
	if filter.All {
		return filter
	}
	permitted := make([]int64, 0, len(filter.OrgIDs))
	for _, orgID := range filter.OrgIDs {
		if e.authorizer.HasPermInOrg(ctx, user, code, orgID) {
			permitted = append(permitted, orgID)
		}
	}
	return &Filter{OrgIDs: permitted}
}

// AuthorizeRead gates a retrieve against the resource's owning
// organization. Access from outside the organization surfaces as not
// found so tenant existence does not leak.
func (e *Enforcer) AuthorizeRead(ctx context.Context, user *auth.User, resourceType string, resource rbac.OrgScoped) error {
	filter, err := e.ReadFilter(ctx, user)
	if err != nil {
		return err
	}
	if !filter.Contains(resource.OrgID()) {
		return apperrors.NewNotFound(resourceType, nil)
	}
	if !e.authorizer.HasPermInOrg(ctx, user, rbac.ViewCode(resourceType), resource.OrgID()) {
		return apperrors.NewPermissionDenied("missing %s", rbac.ViewCode(resourceType))
	}
	return nil
}

// AuthorizeCreate resolves the target organization for a create and gates
// it on the add permission. Any failure aborts before anything persists.
func (e *Enforcer) AuthorizeCreate(ctx context.Context, user *auth.User, resourceType string, hint *int64) (int64, error) {
	orgID, err := e.resolver.ValidateTargetOrg(ctx, user, hint, true)
	if err != nil {
		return 0, err
	}
	if !e.authorizer.HasPermInOrg(ctx, user, rbac.AddCode(resourceType), orgID) {
		return 0, apperrors.NewPermissionDenied("missing %s", rbac.AddCode(resourceType))
	}
	return orgID, nil
}

// AuthorizeUpdate gates an update against the target object's existing
// organization. The stored organization is authoritative; any
// client-supplied organization is ignored by the store layer.
func (e *Enforcer) AuthorizeUpdate(ctx context.Context, user *auth.User, resourceType string, resource rbac.OrgScoped) error {
	return e.authorizeMutation(ctx, user, resourceType, resource, rbac.ChangeCode(resourceType))
}

// AuthorizeDelete gates a delete against the target object's existing
// organization.
func (e *Enforcer) AuthorizeDelete(ctx context.Context, user *auth.User, resourceType string, resource rbac.OrgScoped) error {
	return e.authorizeMutation(ctx, user, resourceType, resource, rbac.DeleteCode(resourceType))
}

func (e *Enforcer) authorizeMutation(ctx context.Context, user *auth.User, resourceType string, resource rbac.OrgScoped, code string) error {
	filter, err := e.ReadFilter(ctx, user)
	if err != nil {
		return err
	}
	if !filter.Contains(resource.OrgID()) {
		return apperrors.NewNotFound(resourceType, nil)
	}
	if !e.authorizer.HasPermInOrg(ctx, user, code, resource.OrgID()) {
		return apperrors.NewPermissionDenied("missing %s", code)
	}
	return nil
}
